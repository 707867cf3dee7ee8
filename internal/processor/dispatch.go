package processor

import (
	"context"
	"fmt"

	"github.com/dcbrun/dcb/internal/store"
)

// FanOutSink dispatches the same batch to every sink in order, so one
// subscription can feed a NATS topic, a Postgres view and a Redis cache
// without three separate processors racing over the same checkpoint.
type FanOutSink struct {
	Sinks []Sink
}

func (f FanOutSink) Dispatch(ctx context.Context, events []store.Event) error {
	for i, sink := range f.Sinks {
		if err := sink.Dispatch(ctx, events); err != nil {
			return fmt.Errorf("processor: sink %d failed: %w", i, err)
		}
	}
	return nil
}
