package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
)

var (
	ErrTitleRequired = errors.New("book title is required")
	ErrNotFound      = errors.New("conversation not found")
	ErrInvalidTurn   = errors.New("turn needs a user or persona role and content")
	ErrClosed        = errors.New("conversation store is closed")
)

// Store is the append-only conversation log. Append is the only turn mutator
// and returns only after the turn is durable.
type Store interface {
	Create(ctx context.Context, b book.Book) (chat.Conversation, error)
	Append(ctx context.Context, conversationID string, turn chat.Turn) (chat.Turn, error)
	Get(ctx context.Context, id string) (chat.Conversation, error)
	// List returns conversations, most recently active first.
	List(ctx context.Context) ([]chat.Conversation, error)
	UpdateCover(ctx context.Context, id, coverRef string) (chat.Conversation, error)
	Close() error
}

func validateTurn(turn chat.Turn) error {
	if !turn.Role.Valid() || strings.TrimSpace(turn.Content) == "" {
		return ErrInvalidTurn
	}
	return nil
}

// stampTurn keeps CreatedAt non-decreasing within a conversation.
func stampTurn(turn chat.Turn, now, previous time.Time) chat.Turn {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	turn.CreatedAt = turn.CreatedAt.UTC()
	if turn.CreatedAt.Before(previous) {
		turn.CreatedAt = previous
	}
	return turn
}
