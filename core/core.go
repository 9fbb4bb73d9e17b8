package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for runs, events, approvals and
// messages. Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }

// Snippet truncates s to at most max runes, appending an ellipsis marker when
// content was dropped. Used for argument and result excerpts stored in run
// records and events so ring buffers stay bounded in memory.
func Snippet(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
