package processor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbrun/dcb/internal/processor"
	"github.com/dcbrun/dcb/internal/store"
)

func TestFanOutSink_StopsOnFirstError(t *testing.T) {
	var calls []int
	wantErr := errors.New("boom")

	ok := processor.SinkFunc(func(ctx context.Context, events []store.Event) error {
		calls = append(calls, 1)
		return nil
	})
	fails := processor.SinkFunc(func(ctx context.Context, events []store.Event) error {
		calls = append(calls, 2)
		return wantErr
	})
	neverCalled := processor.SinkFunc(func(ctx context.Context, events []store.Event) error {
		calls = append(calls, 3)
		return nil
	})

	fanOut := processor.FanOutSink{Sinks: []processor.Sink{ok, fails, neverCalled}}
	err := fanOut.Dispatch(context.Background(), []store.Event{{Type: "X"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestJSONMergeFold_MergesOverCurrent(t *testing.T) {
	current := []byte(`{"balance":100,"owner":"alice"}`)
	ev := store.Event{Data: []byte(`{"balance":70}`)}

	merged, err := processor.JSONMergeFold(current, ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":70,"owner":"alice"}`, string(merged))
}
