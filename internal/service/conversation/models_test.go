package conversation

import (
	"testing"
	"time"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
)

func TestConversationModelConversion(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := chat.Conversation{
		ID:           "c1",
		Book:         book.Book{ID: "b1", Title: "Dune", Author: "Frank Herbert", CoverRef: "cover.jpg"},
		CreatedAt:    created,
		LastActiveAt: created.Add(time.Minute),
	}

	model := conversationToModel(conv)
	model.Turns = []TurnModel{
		turnToModel("c1", 0, chat.Turn{ID: "t1", Role: chat.RoleUser, Content: "hi", CreatedAt: created}),
		turnToModel("c1", 1, chat.Turn{ID: "t2", Role: chat.RolePersona, Content: "hello", CreatedAt: created.Add(time.Minute)}),
	}
	if model.Turns[1].Seq != 1 || model.Turns[1].ConversationID != "c1" {
		t.Fatalf("unexpected turn model %+v", model.Turns[1])
	}

	got := conversationFromModel(model)
	if got.Book != conv.Book {
		t.Fatalf("book: got %+v want %+v", got.Book, conv.Book)
	}
	if len(got.Turns) != 2 || got.Turns[1].Role != chat.RolePersona || got.Turns[1].Content != "hello" {
		t.Fatalf("unexpected turns %+v", got.Turns)
	}
	if !got.LastActiveAt.Equal(conv.LastActiveAt) {
		t.Fatalf("LastActiveAt: got %s want %s", got.LastActiveAt, conv.LastActiveAt)
	}
}
