// Package period implements the period resolver sketch (spec C13):
// lazily opening and closing time-bucketed "statement" periods so a
// key's state stays bounded by period tag instead of growing forever.
// Grounded on the teacher's transfer example's projector-then-appendIf
// shape (internal/examples/transfer/pkg/transfer.go): project the prior
// period's closing state, then append the close/open pair each guarded
// by its own idempotency query, same as that example guards
// MoneyTransferred on the source account still existing.
package period

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dcbrun/dcb/internal/store"
)

// Type names a period granularity.
type Type string

const (
	Monthly Type = "monthly"
	Daily   Type = "daily"
)

// ID formats the period identifier used in tags and event bodies, e.g.
// "wallet:w1:2025-01" for a monthly period.
func ID(key string, t Type, at time.Time) string {
	switch t {
	case Daily:
		return fmt.Sprintf("%s:%s", key, at.UTC().Format("2006-01-02"))
	default:
		return fmt.Sprintf("%s:%s", key, at.UTC().Format("2006-01"))
	}
}

func previousID(key string, t Type, at time.Time) string {
	switch t {
	case Daily:
		return ID(key, t, at.AddDate(0, 0, -1))
	default:
		u := at.UTC()
		firstOfMonth := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
		return ID(key, t, firstOfMonth.AddDate(0, -1, 0))
	}
}

const (
	eventPeriodOpened = "PeriodOpened"
	eventPeriodClosed = "PeriodClosed"
	tagPeriodID       = "period_id"
	tagKey            = "key"
)

type periodBody struct {
	Key            string  `json:"key"`
	PeriodID       string  `json:"period_id"`
	ClosingBalance float64 `json:"closing_balance,omitempty"`
	OpeningBalance float64 `json:"opening_balance,omitempty"`
}

// BalanceProjection computes a period's balance from its events; passed
// in by the caller so the resolver stays agnostic of the domain's state
// shape (spec's decision models vary per aggregate).
type BalanceProjection struct {
	Query        func(key, periodID string) store.Query
	InitialState float64
	Transition   func(balance float64, e store.Event) float64
}

// Resolver implements resolveActivePeriod against a Store.
type Resolver struct {
	Store      store.Store
	Type       Type
	Projection BalanceProjection
}

func NewResolver(s store.Store, t Type, projection BalanceProjection) *Resolver {
	return &Resolver{Store: s, Type: t, Projection: projection}
}

// Resolve returns the current period id for key, opening it (and
// closing the previous one) first if needed. Both appends use an
// idempotency guard on their own period id, so losing the race to
// another opener is treated as success, not an error (spec §4.10).
func (r *Resolver) Resolve(ctx context.Context, key string, now time.Time) (string, error) {
	current := ID(key, r.Type, now)

	openedQuery := store.NewQuery(store.NewQueryItem(
		[]string{eventPeriodOpened},
		[]store.Tag{store.NewTag(tagPeriodID, current)},
	))

	existing, err := r.Store.Read(ctx, openedQuery, store.ZeroCursor, 1)
	if err != nil {
		return "", fmt.Errorf("period: checking whether %s is already open: %w", current, err)
	}
	if len(existing) > 0 {
		return current, nil
	}

	prev := previousID(key, r.Type, now)
	if err := r.closePrevious(ctx, key, prev); err != nil {
		return "", err
	}
	if err := r.openCurrent(ctx, key, current); err != nil {
		return "", err
	}
	return current, nil
}

func (r *Resolver) closePrevious(ctx context.Context, key, prevID string) error {
	balance, err := r.projectBalance(ctx, key, prevID)
	if err != nil {
		return fmt.Errorf("period: projecting closing balance for %s: %w", prevID, err)
	}

	body, err := json.Marshal(periodBody{Key: key, PeriodID: prevID, ClosingBalance: balance})
	if err != nil {
		return fmt.Errorf("period: marshaling PeriodClosed for %s: %w", prevID, err)
	}

	guard := store.AppendCondition{
		FailIfEventsMatch: store.NewQuery(store.NewQueryItem(
			[]string{eventPeriodClosed},
			[]store.Tag{store.NewTag(tagPeriodID, prevID)},
		)),
		After: store.ZeroCursor,
	}

	_, err = r.Store.AppendIf(ctx, []store.InputEvent{
		store.NewInputEvent(eventPeriodClosed, []store.Tag{
			store.NewTag(tagKey, key),
			store.NewTag(tagPeriodID, prevID),
		}, body),
	}, guard)

	if err != nil && !store.IsConcurrencyError(err) {
		return fmt.Errorf("period: appending PeriodClosed for %s: %w", prevID, err)
	}
	// A concurrency violation here means another opener already closed
	// this period; that is the successful outcome we were racing for.
	return nil
}

func (r *Resolver) openCurrent(ctx context.Context, key, currentID string) error {
	balance, err := r.projectBalance(ctx, key, currentID)
	if err != nil {
		return fmt.Errorf("period: projecting opening balance for %s: %w", currentID, err)
	}

	body, err := json.Marshal(periodBody{Key: key, PeriodID: currentID, OpeningBalance: balance})
	if err != nil {
		return fmt.Errorf("period: marshaling PeriodOpened for %s: %w", currentID, err)
	}

	guard := store.AppendCondition{
		FailIfEventsMatch: store.NewQuery(store.NewQueryItem(
			[]string{eventPeriodOpened},
			[]store.Tag{store.NewTag(tagPeriodID, currentID)},
		)),
		After: store.ZeroCursor,
	}

	_, err = r.Store.AppendIf(ctx, []store.InputEvent{
		store.NewInputEvent(eventPeriodOpened, []store.Tag{
			store.NewTag(tagKey, key),
			store.NewTag(tagPeriodID, currentID),
		}, body),
	}, guard)

	if err != nil && !store.IsConcurrencyError(err) {
		return fmt.Errorf("period: appending PeriodOpened for %s: %w", currentID, err)
	}
	return nil
}

func (r *Resolver) projectBalance(ctx context.Context, key, periodID string) (float64, error) {
	if r.Projection.Query == nil || r.Projection.Transition == nil {
		return 0, nil
	}
	q := r.Projection.Query(key, periodID)
	state, _, err := r.Store.Project(ctx, q, store.ZeroCursor, []store.StateProjector{{
		ID:           "period-balance",
		Query:        q,
		InitialState: r.Projection.InitialState,
		Transition: func(state any, e store.Event) any {
			return r.Projection.Transition(state.(float64), e)
		},
	}})
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, nil
	}
	return state.(float64), nil
}
