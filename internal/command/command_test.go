package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbrun/dcb/internal/command"
	"github.com/dcbrun/dcb/internal/store"
)

// fakeStore is a minimal in-memory store.Store good enough to exercise
// Executor's project/decide/append-with-retry loop without a database.
type fakeStore struct {
	events        []store.Event
	failNextAppends int
}

func (f *fakeStore) Append(ctx context.Context, events []store.InputEvent) (store.Cursor, error) {
	return f.AppendIf(ctx, events, store.AppendCondition{})
}

func (f *fakeStore) AppendIf(ctx context.Context, events []store.InputEvent, condition store.AppendCondition) (store.Cursor, error) {
	if f.failNextAppends > 0 {
		f.failNextAppends--
		return store.Cursor{}, &store.ConcurrencyError{}
	}
	for _, e := range events {
		f.events = append(f.events, store.Event{
			Type:     e.Type(),
			Tags:     e.Tags(),
			Data:     e.Data(),
			Position: int64(len(f.events) + 1),
		})
	}
	return store.Cursor{Position: int64(len(f.events))}, nil
}

func (f *fakeStore) Read(ctx context.Context, query store.Query, after store.Cursor, limit int) ([]store.Event, error) {
	var out []store.Event
	for _, e := range f.events {
		if e.Position > after.Position && (query == nil || store.MatchesQuery(e, query)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Project(ctx context.Context, query store.Query, after store.Cursor, projectors []store.StateProjector) (any, store.Cursor, error) {
	events, err := f.Read(ctx, query, after, 0)
	if err != nil {
		return nil, after, err
	}
	var state any
	if len(projectors) > 0 {
		state = projectors[0].InitialState
	}
	cursor := after
	for _, e := range events {
		for _, p := range projectors {
			state = p.Transition(state, e)
		}
		cursor = store.Cursor{Position: e.Position}
	}
	return state, cursor, nil
}

func (f *fakeStore) CurrentPosition(ctx context.Context) (int64, error) {
	return int64(len(f.events)), nil
}

func (f *fakeStore) Pool() *pgxpool.Pool { return nil }

func (f *fakeStore) Bootstrap(ctx context.Context) error { return nil }

func TestExecutor_Execute_Success(t *testing.T) {
	fs := &fakeStore{}
	ex := &command.Executor{Store: fs, MaxRetries: 1, Log: zerolog.Nop()}

	h := command.Handler{
		DecisionQuery: store.QueryItemsMatchingTags(store.NewTag("wallet_id", "w1")),
		InitialState:  0,
		Transition: func(state any, e store.Event) any {
			return state.(int) + 1
		},
		Decide: func(ctx context.Context, state any, cmd command.Command) ([]store.InputEvent, error) {
			return []store.InputEvent{
				store.NewInputEvent("WalletOpened", store.Tags("wallet_id", "w1"), cmd.Data),
			}, nil
		},
	}

	events, cursor, err := ex.Execute(context.Background(), command.Command{Type: "OpenWallet", Data: []byte(`{}`)}, h)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(1), cursor.Position)
}

func TestExecutor_Execute_RetriesOnConcurrencyError(t *testing.T) {
	fs := &fakeStore{failNextAppends: 2}
	ex := &command.Executor{Store: fs, MaxRetries: 3, Log: zerolog.Nop()}

	h := command.Handler{
		DecisionQuery: store.QueryItemsMatchingTags(store.NewTag("wallet_id", "w1")),
		InitialState:  0,
		Transition:    func(state any, e store.Event) any { return state },
		Decide: func(ctx context.Context, state any, cmd command.Command) ([]store.InputEvent, error) {
			return []store.InputEvent{
				store.NewInputEvent("WalletOpened", store.Tags("wallet_id", "w1"), nil),
			}, nil
		},
	}

	_, _, err := ex.Execute(context.Background(), command.Command{Type: "OpenWallet"}, h)
	require.NoError(t, err)
}

func TestExecutor_Execute_GivesUpAfterMaxRetries(t *testing.T) {
	fs := &fakeStore{failNextAppends: 99}
	ex := &command.Executor{Store: fs, MaxRetries: 2, Log: zerolog.Nop()}

	h := command.Handler{
		DecisionQuery: store.QueryItemsMatchingTags(store.NewTag("wallet_id", "w1")),
		Transition:    func(state any, e store.Event) any { return state },
		Decide: func(ctx context.Context, state any, cmd command.Command) ([]store.InputEvent, error) {
			return []store.InputEvent{store.NewInputEvent("WalletOpened", nil, nil)}, nil
		},
	}

	_, _, err := ex.Execute(context.Background(), command.Command{Type: "OpenWallet"}, h)
	require.Error(t, err)
}

func TestExecutor_Execute_DecideError(t *testing.T) {
	fs := &fakeStore{}
	ex := &command.Executor{Store: fs, MaxRetries: 1, Log: zerolog.Nop()}

	wantErr := errors.New("insufficient funds")
	h := command.Handler{
		Transition: func(state any, e store.Event) any { return state },
		Decide: func(ctx context.Context, state any, cmd command.Command) ([]store.InputEvent, error) {
			return nil, wantErr
		},
	}

	_, _, err := ex.Execute(context.Background(), command.Command{Type: "WithdrawFunds"}, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}
