// Package ctxbuild turns editor requests into the normalized context text
// that the semantic cache embeds and compares.
//
// Two variants exist: Code for cursor-anchored completions and Chat for
// conversational turns. Both satisfy Context, so the cache never inspects
// which one it holds.
package ctxbuild

import (
	"fmt"
	"strings"

	"github.com/pario-ai/semcache/pkg/models"
)

const (
	// WindowRadius is the number of lines kept on each side of the cursor.
	WindowRadius = 5
	// MaxHistoryTurns is the number of trailing chat turns kept.
	MaxHistoryTurns = 3
	// MaxTurnChars is the rune length at which each kept turn is cut.
	MaxTurnChars = 200

	DefaultLanguage  = "Unknown"
	DefaultFramework = "None"
	DefaultMode      = "chat"
)

// Context is a normalized request ready for embedding.
type Context interface {
	// Category is the namespace the context is cached under.
	Category() models.Category
	// Text is the deterministic string that gets embedded.
	Text() string
	// Locality is a short slice of the context used for id hashing.
	Locality() string
	// Kind is the suggestion type or chat mode.
	Kind() string
}

// Code is a code-completion context anchored at a cursor.
type Code struct {
	FileContent    string
	CursorLine     int
	CursorColumn   int
	Language       string
	Framework      string
	SuggestionType string
}

// Category implements Context.
func (c Code) Category() models.Category {
	return models.Category{
		Language:  orDefault(c.Language, DefaultLanguage),
		Framework: orDefault(c.Framework, DefaultFramework),
	}
}

// Text implements Context.
func (c Code) Text() string {
	lines := strings.Split(c.FileContent, "\n")
	cursor := clamp(c.CursorLine, 0, len(lines)-1)
	start := clamp(cursor-WindowRadius, 0, len(lines)-1)
	end := clamp(cursor+WindowRadius, 0, len(lines)-1)
	cat := c.Category()

	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n", cat.Language)
	fmt.Fprintf(&b, "Framework: %s\n", cat.Framework)
	b.WriteString("Context:\n")
	for _, l := range lines[start : end+1] {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Cursor: line %d, column %d\n", c.CursorLine+1, c.CursorColumn+1)
	fmt.Fprintf(&b, "Current line: %s", lines[cursor])
	return b.String()
}

// Locality implements Context. It is the cursor line with one neighbour on
// each side.
func (c Code) Locality() string {
	lines := strings.Split(c.FileContent, "\n")
	cursor := clamp(c.CursorLine, 0, len(lines)-1)
	start := clamp(cursor-1, 0, len(lines)-1)
	end := clamp(cursor+1, 0, len(lines)-1)
	return strings.Join(lines[start:end+1], "\n")
}

// Kind implements Context.
func (c Code) Kind() string {
	return c.SuggestionType
}

// Chat is a conversational context.
type Chat struct {
	Message string
	Mode    string
	History []models.ChatTurn
}

// Category implements Context.
func (c Chat) Category() models.Category {
	return models.Category{
		Language:  models.ChatLanguage,
		Framework: orDefault(c.Mode, DefaultMode),
	}
}

// Text implements Context.
func (c Chat) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", c.Category().Framework)
	b.WriteString("Recent conversation:\n")
	for _, turn := range recent(c.History, MaxHistoryTurns) {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, truncate(turn.Content, MaxTurnChars))
	}
	fmt.Fprintf(&b, "\nCurrent message: %s", c.Message)
	return b.String()
}

// Locality implements Context.
func (c Chat) Locality() string {
	return c.Message
}

// Kind implements Context.
func (c Chat) Kind() string {
	return c.Category().Framework
}

func recent(turns []models.ChatTurn, n int) []models.ChatTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
