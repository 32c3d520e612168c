package ai

import (
	"strings"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
	"github.com/zhouzirui/grimoire/backend/internal/model/persona"
)

const readerLabel = "Reader"

// Compose renders the single prompt sent to the generation model for one turn.
// History is rendered in the given order and never truncated.
func Compose(p persona.Persona, b book.Book, history []chat.HistoryEntry, question string) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = b.Title
	}

	var builder strings.Builder
	builder.WriteString(framing(p, name, b))
	builder.WriteString("\n\n")
	builder.WriteString("Keep answers concise but insightful. If the reader asks about something outside the scope of the book, say so.\n\n")

	builder.WriteString("Conversation so far:\n")
	for _, entry := range history {
		speaker := readerLabel
		if entry.FromPersona() {
			speaker = name
		}
		builder.WriteString(speaker)
		builder.WriteString(": ")
		builder.WriteString(entry.Content)
		builder.WriteString("\n")
	}

	builder.WriteString("\n")
	builder.WriteString(readerLabel)
	builder.WriteString(": ")
	builder.WriteString(question)
	builder.WriteString("\n")
	builder.WriteString(name)
	builder.WriteString(":")
	return builder.String()
}

func framing(p persona.Persona, name string, b book.Book) string {
	if p.Role == persona.RoleAuthor {
		return "You are " + name + ", the author of " + b.Byline() + ". " +
			"Speak in the first person as the author, discussing the work, why you wrote it and the ideas inside it."
	}

	if !p.IsFiction {
		return "You are the living voice of " + b.Byline() + ", speaking as " + name + ". " +
			"Stay grounded in the book's themes and ideas."
	}

	return "You are " + name + ", the protagonist of " + b.Byline() + ". " +
		"Speak in the first person as this character, with their memories, voice and point of view, and never break character."
}
