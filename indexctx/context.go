// Package indexctx defines the Context collaborator: the handler
// registry that resolves a named callback and invokes user code, and the
// reindex trigger that destructively resets all persisted state.
//
// Both are out of scope for this core (spec.md §1); only the interface
// the engine depends on lives here.
package indexctx

import (
	"context"
	"fmt"
)

// ReindexReason names why a reindex was triggered.
type ReindexReason string

const (
	ReasonBlockHashMismatch ReindexReason = "BLOCK_HASH_MISMATCH"
	ReasonRollback          ReindexReason = "ROLLBACK"
)

// Context resolves and invokes user handler callbacks, and owns the
// destructive reindex path.
type Context interface {
	// FireHandler resolves callback under parentIndex and awaits it with
	// the given log prefix and decoded handler arguments.
	FireHandler(ctx context.Context, callback, parentIndex string, logPrefix string, args ...any) error

	// Reindex performs a destructive reset of all persisted index state
	// and restarts the process. Implementations are not expected to
	// return normally; per spec.md §9 the engine treats the call site as
	// terminal: it propagates the returned error, or a *ReindexError when
	// Reindex returns nil, straight to its caller without further
	// processing.
	Reindex(ctx context.Context, reason ReindexReason) error
}

// ReindexError is the control-flow value the engine returns after a
// Context.Reindex call that returned nil. It is not a transient failure: receiving it means the
// engine must stop processing the current batch and propagate up to the
// dispatcher, which is expected to restart the process.
type ReindexError struct {
	Reason ReindexReason
}

func (e *ReindexError) Error() string {
	return fmt.Sprintf("reindex triggered: %s", e.Reason)
}

// ConfigInitializationError reports that a resolved handler config
// lacked its parent index linkage — a bug in config resolution upstream
// of the engine, never expected at runtime (spec.md §7).
type ConfigInitializationError struct {
	Callback string
}

func (e *ConfigInitializationError) Error() string {
	return fmt.Sprintf("handler config for callback %q has no parent index set", e.Callback)
}
