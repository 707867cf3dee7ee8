package processor

import (
	"context"

	"github.com/dcbrun/dcb/internal/store"
)

// Subscription names one outbox processor: the query it tails and the
// sink it dispatches matching events to (spec C7/C12).
type Subscription struct {
	ID        string
	Query     store.Query
	BatchSize int
	Sink      Sink

	// Enabled overrides whether the scheduler runs this processor at
	// all (spec §6's per-processor "enabled"). nil means enabled; set
	// to a false pointer to register a subscription without starting
	// its poll loop.
	Enabled *bool
}

// enabled reports whether the scheduler should run sub's poll loop.
func (sub Subscription) enabled() bool {
	return sub.Enabled == nil || *sub.Enabled
}

// Sink receives a batch of events in position order. Returning an error
// fails the whole batch; no partial progress is recorded, so redelivery
// on the next poll is guaranteed at-least-once (spec §5).
type Sink interface {
	Dispatch(ctx context.Context, events []store.Event) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, events []store.Event) error

func (f SinkFunc) Dispatch(ctx context.Context, events []store.Event) error { return f(ctx, events) }

// fetcher pulls the next batch for a subscription off the event log.
type fetcher struct {
	store store.Store
}

func newFetcher(s store.Store) *fetcher {
	return &fetcher{store: s}
}

func (f *fetcher) fetch(ctx context.Context, sub Subscription, after store.Cursor) ([]store.Event, error) {
	batchSize := sub.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return f.store.Read(ctx, sub.Query, after, batchSize)
}
