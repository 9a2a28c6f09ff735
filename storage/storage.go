// Package storage defines the persistence collaborator: an ORM-like
// repository exposing Index and Head records plus a process-wide global
// transaction scope. The real relational store is out of scope for this
// core (spec.md §1); only the contract the engine depends on lives here.
package storage

import (
	"context"

	"github.com/chainforge/indexengine/model"
)

// IndexRepository persists IndexState rows.
type IndexRepository interface {
	// GetOrCreate loads the row named name, or creates it from defaults
	// if absent. created reports which happened.
	GetOrCreate(ctx context.Context, name string, kind model.IndexKind, defaults model.IndexState) (state *model.IndexState, created bool, err error)

	// UpdateStatus transactionally mutates status and/or level on state.
	// Either pointer may be nil to leave that field untouched.
	UpdateStatus(ctx context.Context, state *model.IndexState, status *model.IndexStatus, level *int64) error
}

// HeadRepository persists per-datasource HeadRecord rows.
type HeadRepository interface {
	// Latest returns the highest-level HeadRecord for name, or nil if
	// none exists yet.
	Latest(ctx context.Context, name string) (*model.HeadRecord, error)
}

// Transactor scopes the single process-wide transaction. Two indexes
// must never hold it concurrently; that invariant is enforced by the
// cooperative dispatcher (spec.md §5), not by this interface.
type Transactor interface {
	// InGlobalTransaction runs fn inside the global transaction scope,
	// committing on a nil return and rolling back otherwise. Nested
	// entry is rejected.
	InGlobalTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Storage is the aggregate persistence contract the engine depends on.
type Storage interface {
	IndexRepository
	HeadRepository
	Transactor
}
