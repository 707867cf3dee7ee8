package processor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dcbrun/dcb/internal/store"
)

// ViewSink upserts dispatched events into a plain Postgres table kept
// as a read model, via one caller-supplied statement per event type.
// Grounded on the account-balance read model implicit in the teacher's
// transfer example (internal/examples/transfer/pkg/transfer.go), which
// projects AccountOpened/MoneyTransferred into an AccountState —
// generalized here into a small upsert-per-type table instead of a
// projector run fresh on every read, so dashboards can query it with
// plain SQL.
type ViewSink struct {
	pool    *pgxpool.Pool
	upserts map[string]ViewUpsert
}

// ViewUpsert turns one event into the SQL statement and arguments that
// keep the read model current for it.
type ViewUpsert func(e store.Event) (sqlText string, args []any)

func NewViewSink(pool *pgxpool.Pool, upserts map[string]ViewUpsert) *ViewSink {
	return &ViewSink{pool: pool, upserts: upserts}
}

func (s *ViewSink) Dispatch(ctx context.Context, events []store.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("processor: beginning view update transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		upsert, ok := s.upserts[e.Type]
		if !ok {
			continue
		}
		sqlText, args := upsert(e)
		if _, err := tx.Exec(ctx, sqlText, args...); err != nil {
			return fmt.Errorf("processor: applying view upsert for %s: %w", e.Type, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("processor: committing view update: %w", err)
	}
	return nil
}
