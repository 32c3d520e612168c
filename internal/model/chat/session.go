package chat

import (
	"time"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
)

// Conversation is the append-only history of turns about a single book.
type Conversation struct {
	ID           string    `json:"id"`
	Book         book.Book `json:"book"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Clone returns a copy whose turn slice does not alias the receiver's.
func (c Conversation) Clone() Conversation {
	c.Turns = append(make([]Turn, 0, len(c.Turns)), c.Turns...)
	return c
}

// History returns the conversation's turns in wire form.
func (c Conversation) History() []HistoryEntry {
	return HistoryFromTurns(c.Turns)
}
