package book

import "strings"

// Book identifies the work a conversation is about. Title is the only required field.
type Book struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	CoverRef string `json:"coverRef,omitempty"`
}

// Normalize trims whitespace from the user supplied fields.
func (b Book) Normalize() Book {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.CoverRef = strings.TrimSpace(b.CoverRef)
	return b
}

// Byline renders `"Title" by Author`, omitting the author when unknown.
func (b Book) Byline() string {
	if b.Author == "" {
		return `"` + b.Title + `"`
	}
	return `"` + b.Title + `" by ` + b.Author
}
