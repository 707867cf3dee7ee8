// Package command implements the command-handler framework (spec C6):
// project current state from a decision query, let the handler decide
// what happened, and append the resulting events guarded by the very
// query the decision was projected from. Grounded on the teacher's
// commandExecutor (pkg/dcb/command_executor.go, pkg/dcb/command.go),
// adapted from its explicit-transaction form (it drives tx.Exec/appendInTx
// directly against the teacher's own EventStore) to this repo's Store,
// which only exposes whole-batch AppendIf — so retries re-project instead
// of sharing one open transaction across project+decide+append.
package command

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dcbrun/dcb/internal/store"
)

// Command is the input to a Handler: an intent to change the model,
// named and carrying its own payload and metadata.
type Command struct {
	Type     string
	Data     []byte
	Metadata map[string]any
}

// Handler decides what happened in response to a Command, given the
// state projected by DecisionQuery as of the moment Decide runs. The
// same query becomes the append guard, so a concurrent writer touching
// anything Decide depended on aborts this attempt (spec §4.1).
type Handler struct {
	// DecisionQuery selects the slice of the log this decision depends
	// on. Keep it as narrow as the invariant actually requires — a
	// wider query means more unrelated writes can force a retry.
	DecisionQuery store.Query

	// InitialState seeds the projection; Transition folds matching
	// events into it the same way a store.StateProjector does.
	InitialState any
	Transition   func(state any, event store.Event) any

	// Decide turns the projected state and the incoming command into
	// the events to append. Returning zero events fails the command
	// (spec: a command that produces nothing is a validation error,
	// not a silent no-op).
	Decide func(ctx context.Context, state any, cmd Command) ([]store.InputEvent, error)
}

// Executor runs commands against a Store (spec C6).
type Executor struct {
	Store      store.Store
	MaxRetries int // 0 means 1 attempt, no retry
	Log        zerolog.Logger
}

// NewExecutor builds an Executor with the teacher's "retry the append a
// bounded number of times, bail loudly otherwise" posture.
func NewExecutor(s store.Store, log zerolog.Logger) *Executor {
	return &Executor{Store: s, MaxRetries: 3, Log: log}
}

// Execute projects h.DecisionQuery, calls h.Decide, and appends the
// resulting events guarded by h.DecisionQuery after the cursor that
// projection observed. On a ConcurrencyError it re-projects and retries
// up to MaxRetries times before giving up.
func (ex *Executor) Execute(ctx context.Context, cmd Command, h Handler) ([]store.Event, store.Cursor, error) {
	if h.Decide == nil {
		return nil, store.Cursor{}, fmt.Errorf("command: handler has no Decide function")
	}

	attempts := ex.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		projectors := []store.StateProjector{{
			ID:           cmd.Type,
			Query:        h.DecisionQuery,
			InitialState: h.InitialState,
			Transition:   h.Transition,
		}}

		state, cursor, err := ex.Store.Project(ctx, h.DecisionQuery, store.ZeroCursor, projectors)
		if err != nil {
			return nil, store.Cursor{}, fmt.Errorf("command: projecting decision state: %w", err)
		}

		events, err := h.Decide(ctx, state, cmd)
		if err != nil {
			return nil, store.Cursor{}, fmt.Errorf("command: %s decision rejected: %w", cmd.Type, err)
		}
		if len(events) == 0 {
			return nil, store.Cursor{}, fmt.Errorf("command: %s produced no events", cmd.Type)
		}

		appended, err := ex.Store.AppendIf(ctx, events, store.AppendCondition{
			FailIfEventsMatch: h.DecisionQuery,
			After:             cursor,
		})
		if err == nil {
			ex.Log.Debug().Str("command", cmd.Type).Int64("position", appended.Position).Int("attempt", attempt+1).Msg("command applied")
			return readResultEvents(events, appended), appended, nil
		}

		if !store.IsConcurrencyError(err) {
			return nil, store.Cursor{}, fmt.Errorf("command: appending %s events: %w", cmd.Type, err)
		}

		lastErr = err
		ex.Log.Warn().Str("command", cmd.Type).Int("attempt", attempt+1).Msg("command retry: decision state changed under us")
	}

	return nil, store.Cursor{}, fmt.Errorf("command: %s exceeded %d retries: %w", cmd.Type, attempts-1, lastErr)
}

// readResultEvents turns the appended InputEvents into Events carrying
// the cursor they landed at, for callers that want to react to exactly
// what was written without a second Read.
func readResultEvents(in []store.InputEvent, at store.Cursor) []store.Event {
	out := make([]store.Event, len(in))
	for i, e := range in {
		out[i] = store.Event{
			Type:     e.Type(),
			Tags:     e.Tags(),
			Data:     e.Data(),
			Position: at.Position,
		}
	}
	return out
}
