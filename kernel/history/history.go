// Package history defines session-scoped conversation history storage.
package history

import (
	"context"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
)

// Store owns the mapping from session identifier to an ordered log of
// turns. Implementations must serialize mutations per session id while
// letting operations on different sessions proceed in parallel, and must
// never hand callers a slice that aliases internal state.
type Store interface {
	// Append adds a turn to the end of the session's log, creating the
	// session on first reference.
	Append(ctx context.Context, sessionID string, turn dialog.Turn) error

	// Get returns the session's log in append order. Unknown session ids
	// yield an empty log, never an error.
	Get(ctx context.Context, sessionID string) ([]dialog.Turn, error)

	// ReplaceLast swaps the text of the most recently appended turn when
	// its role matches turn.Role. It is the single sanctioned exception to
	// append-only history, used by the hybrid fallback revision. When the
	// log is empty or the last role differs it is a no-op.
	ReplaceLast(ctx context.Context, sessionID string, turn dialog.Turn) error
}
