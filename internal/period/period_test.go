package period_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbrun/dcb/internal/period"
	"github.com/dcbrun/dcb/internal/store"
)

// memStore is a minimal in-memory store.Store for exercising the period
// resolver's idempotency-guard logic without a database.
type memStore struct {
	mu     sync.Mutex
	events []store.Event
}

func (m *memStore) Append(ctx context.Context, events []store.InputEvent) (store.Cursor, error) {
	return m.AppendIf(ctx, events, store.AppendCondition{})
}

func (m *memStore) AppendIf(ctx context.Context, events []store.InputEvent, condition store.AppendCondition) (store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if condition.FailIfEventsMatch != nil {
		for _, e := range m.events {
			if e.Position > condition.After.Position && store.MatchesQuery(e, condition.FailIfEventsMatch) {
				return store.Cursor{}, &store.ConcurrencyError{}
			}
		}
	}
	for _, e := range events {
		m.events = append(m.events, store.Event{
			Type:     e.Type(),
			Tags:     e.Tags(),
			Data:     e.Data(),
			Position: int64(len(m.events) + 1),
		})
	}
	return store.Cursor{Position: int64(len(m.events))}, nil
}

func (m *memStore) Read(ctx context.Context, query store.Query, after store.Cursor, limit int) ([]store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Event
	for _, e := range m.events {
		if e.Position > after.Position && (query == nil || store.MatchesQuery(e, query)) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) Project(ctx context.Context, query store.Query, after store.Cursor, projectors []store.StateProjector) (any, store.Cursor, error) {
	events, err := m.Read(ctx, query, after, 0)
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

func (m *memStore) CurrentPosition(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func (m *memStore) Pool() *pgxpool.Pool { return nil }

func (m *memStore) Bootstrap(ctx context.Context) error { return nil }

func TestResolver_OpensCurrentPeriodOnce(t *testing.T) {
	s := &memStore{}
	r := period.NewResolver(s, period.Monthly, period.BalanceProjection{})

	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	id1, err := r.Resolve(context.Background(), "wallet:w1", now)
	require.NoError(t, err)
	assert.Equal(t, "wallet:w1:2026-03", id1)

	id2, err := r.Resolve(context.Background(), "wallet:w1", now)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Only one PeriodOpened event should exist for this period.
	events, err := s.Read(context.Background(), store.QueryItemsMatchingType("PeriodOpened"), store.ZeroCursor, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestResolver_ConcurrentOpenersYieldOneWinner(t *testing.T) {
	s := &memStore{}
	r := period.NewResolver(s, period.Monthly, period.BalanceProjection{})
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), "wallet:w2", now)
		}()
	}
	wg.Wait()

	events, err := s.Read(context.Background(), store.QueryItemsMatchingType("PeriodOpened"), store.ZeroCursor, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
