package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the core abstraction for appending and reading events (C1-C5).
// The teacher's pkg/dcb.EventStore interface (pkg/dcb/interfaces.go) is
// the direct model: opaque types in, opaque types out, Append/AppendIf
// split so unconditional writes never carry guard machinery.
type Store interface {
	// Append persists events with no concurrency guard. Used only where
	// no decision-model invariant applies (e.g. pure logging events).
	Append(ctx context.Context, events []InputEvent) (Cursor, error)

	// AppendIf persists events iff no event at a position greater than
	// condition.After matches condition.FailIfEventsMatch (spec §4.1).
	// On a guard match it returns a *ConcurrencyError and writes nothing.
	AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) (Cursor, error)

	// Read returns events matching query at positions greater than
	// after, in ascending position order, up to limit events (0 = no
	// limit). An empty query matches every event for Read (spec §3).
	Read(ctx context.Context, query Query, after Cursor, limit int) ([]Event, error)

	// Project folds query-matching events through projectors into one
	// shared state value (spec §4.2). The starting state is
	// projectors[0].InitialState (or nil with no projectors); callers
	// that need several independent states compose them into one
	// record and let each projector mutate only its own field.
	Project(ctx context.Context, query Query, after Cursor, projectors []StateProjector) (any, Cursor, error)

	// CurrentPosition returns the position of the newest event in the
	// store, or 0 if the log is empty. Used to compute processor lag.
	CurrentPosition(ctx context.Context) (int64, error)

	// Pool exposes the underlying pgx pool for components that need
	// direct SQL access alongside the store (progress tracker, leader
	// elector, dispatch sinks) — mirrors the teacher's GetPool escape
	// hatch (pkg/dcb/interfaces.go).
	Pool() *pgxpool.Pool

	// Bootstrap creates the schema and append function if absent. Safe
	// to call repeatedly; idempotent DDL only (see DESIGN.md on why this
	// is not a migration framework).
	Bootstrap(ctx context.Context) error
}

// New wraps an existing pgx pool as a Store. The pool is not pinged or
// validated here; call Bootstrap before first use in a fresh database.
func New(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}
