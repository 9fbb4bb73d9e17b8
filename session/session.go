// Package session persists conversation histories per session id. Writes
// replace the whole ordered message list so readers always observe a
// consistent history, never a partially appended one.
package session

import (
	"context"

	"github.com/chartmesh/chartmesh/core"
)

// Store is the persistence contract for conversation histories.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadMessages returns the full history of a session. Unknown sessions
	// yield an empty history, not an error.
	LoadMessages(ctx context.Context, sessionID string) ([]core.Message, error)

	// ReplaceMessages atomically swaps the session's history for msgs.
	ReplaceMessages(ctx context.Context, sessionID string, msgs []core.Message) error

	// Clear removes the session and its history entirely.
	Clear(ctx context.Context, sessionID string) error
}
