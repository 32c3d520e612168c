package conversation

import (
	"time"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
)

// ConversationModel is the conversations table row.
type ConversationModel struct {
	ID           string `gorm:"primaryKey"`
	BookID       string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	Author       string
	CoverRef     string
	CreatedAt    time.Time   `gorm:"not null"`
	LastActiveAt time.Time   `gorm:"not null;index"`
	Turns        []TurnModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

// TurnModel stores one turn. Seq is the append position and is unique per conversation.
type TurnModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;uniqueIndex:idx_turn_position,priority:1"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_turn_position,priority:2"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func conversationToModel(c chat.Conversation) ConversationModel {
	return ConversationModel{
		ID:           c.ID,
		BookID:       c.Book.ID,
		Title:        c.Book.Title,
		Author:       c.Book.Author,
		CoverRef:     c.Book.CoverRef,
		CreatedAt:    c.CreatedAt,
		LastActiveAt: c.LastActiveAt,
	}
}

func conversationFromModel(m ConversationModel) chat.Conversation {
	turns := make([]chat.Turn, 0, len(m.Turns))
	for _, t := range m.Turns {
		turns = append(turns, turnFromModel(t))
	}
	return chat.Conversation{
		ID: m.ID,
		Book: book.Book{
			ID:       m.BookID,
			Title:    m.Title,
			Author:   m.Author,
			CoverRef: m.CoverRef,
		},
		Turns:        turns,
		CreatedAt:    m.CreatedAt.UTC(),
		LastActiveAt: m.LastActiveAt.UTC(),
	}
}

func turnToModel(conversationID string, seq int, t chat.Turn) TurnModel {
	return TurnModel{
		ID:             t.ID,
		ConversationID: conversationID,
		Seq:            seq,
		Role:           string(t.Role),
		Content:        t.Content,
		CreatedAt:      t.CreatedAt,
	}
}

func turnFromModel(m TurnModel) chat.Turn {
	return chat.Turn{
		ID:        m.ID,
		Role:      chat.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
