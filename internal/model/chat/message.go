package chat

import (
	"strings"
	"time"
)

// Role 区分读者与书中人物的发言。
type Role string

const (
	RoleUser    Role = "user"
	RolePersona Role = "persona"
)

// Valid reports whether the role is one a turn may carry.
func (r Role) Valid() bool {
	return r == RoleUser || r == RolePersona
}

// Turn is one immutable entry of a conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry is the wire form of a prior turn sent along with each request.
// Clients use "book" for persona turns; "assistant" and "persona" are accepted too.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FromPersona reports whether the entry was spoken by the persona.
func (e HistoryEntry) FromPersona() bool {
	switch strings.ToLower(strings.TrimSpace(e.Role)) {
	case "book", "assistant", "persona":
		return true
	default:
		return false
	}
}

// HistoryFromTurns converts stored turns into wire history, preserving order.
func HistoryFromTurns(turns []Turn) []HistoryEntry {
	if len(turns) == 0 {
		return nil
	}
	history := make([]HistoryEntry, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == RolePersona {
			role = "book"
		}
		history = append(history, HistoryEntry{Role: role, Content: turn.Content})
	}
	return history
}
