package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
)

// MemoryStore keeps conversations in memory. When opened on a path every
// mutation is written through to a JSON snapshot before it returns.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation
	path          string
	closed        bool
	now           func() time.Time
}

type snapshot struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// NewMemoryStore bootstraps a volatile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*chat.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Open loads the snapshot at path, if any, and persists every later mutation to it.
func Open(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read conversation log: %w", err)
	case len(strings.TrimSpace(string(data))) == 0:
		return s, nil
	}

	var snap snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode conversation log: %w", err)
	}
	for i := range snap.Conversations {
		conv := snap.Conversations[i].Clone()
		s.conversations[conv.ID] = &conv
	}
	return s, nil
}

// Create provisions a conversation bound to a book.
func (s *MemoryStore) Create(_ context.Context, b book.Book) (chat.Conversation, error) {
	b = b.Normalize()
	if b.Title == "" {
		return chat.Conversation{}, ErrTitleRequired
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.Conversation{}, ErrClosed
	}

	now := s.now()
	conv := &chat.Conversation{
		ID:           uuid.NewString(),
		Book:         b,
		Turns:        make([]chat.Turn, 0, 16),
		CreatedAt:    now,
		LastActiveAt: now,
	}

	s.conversations[conv.ID] = conv
	if err := s.persistLocked(); err != nil {
		delete(s.conversations, conv.ID)
		return chat.Conversation{}, err
	}
	return conv.Clone(), nil
}

// Append adds a turn to the end of the conversation.
func (s *MemoryStore) Append(_ context.Context, conversationID string, turn chat.Turn) (chat.Turn, error) {
	if err := validateTurn(turn); err != nil {
		return chat.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.Turn{}, ErrClosed
	}

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Turn{}, ErrNotFound
	}

	previous := conv.CreatedAt
	if n := len(conv.Turns); n > 0 {
		previous = conv.Turns[n-1].CreatedAt
	}
	turn = stampTurn(turn, s.now(), previous)
	turn.ID = uuid.NewString()

	prevActive := conv.LastActiveAt
	conv.Turns = append(conv.Turns, turn)
	conv.LastActiveAt = turn.CreatedAt

	if err := s.persistLocked(); err != nil {
		conv.Turns = conv.Turns[:len(conv.Turns)-1]
		conv.LastActiveAt = prevActive
		return chat.Turn{}, err
	}
	return turn, nil
}

// Get retrieves a conversation by identifier.
func (s *MemoryStore) Get(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrNotFound
	}
	return conv.Clone(), nil
}

// List returns every conversation, most recently active first.
func (s *MemoryStore) List(_ context.Context) ([]chat.Conversation, error) {
	s.mu.RLock()
	items := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		items = append(items, conv.Clone())
	}
	s.mu.RUnlock()

	sortByActivity(items)
	return items, nil
}

// UpdateCover records a new cover reference and marks the conversation active.
// An empty reference keeps the existing cover.
func (s *MemoryStore) UpdateCover(_ context.Context, id, coverRef string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.Conversation{}, ErrClosed
	}

	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrNotFound
	}

	prevCover, prevActive := conv.Book.CoverRef, conv.LastActiveAt
	if coverRef = strings.TrimSpace(coverRef); coverRef != "" {
		conv.Book.CoverRef = coverRef
	}
	if now := s.now(); now.After(conv.LastActiveAt) {
		conv.LastActiveAt = now
	}

	if err := s.persistLocked(); err != nil {
		conv.Book.CoverRef, conv.LastActiveAt = prevCover, prevActive
		return chat.Conversation{}, err
	}
	return conv.Clone(), nil
}

// Close flushes the snapshot and rejects later mutations.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.persistLocked()
}

// persistLocked writes the full snapshot to a temp file and renames it into place.
func (s *MemoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}

	snap := snapshot{Conversations: make([]chat.Conversation, 0, len(s.conversations))}
	for _, conv := range s.conversations {
		snap.Conversations = append(snap.Conversations, *conv)
	}
	sortByActivity(snap.Conversations)

	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode conversation log: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create conversation log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create conversation log temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync conversation log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close conversation log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace conversation log: %w", err)
	}
	return nil
}

func sortByActivity(items []chat.Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LastActiveAt.Equal(items[j].LastActiveAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].LastActiveAt.After(items[j].LastActiveAt)
	})
}
