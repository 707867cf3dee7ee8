package adminapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dcbrun/dcb/internal/adminapi"
	"github.com/dcbrun/dcb/internal/processor"
	"github.com/dcbrun/dcb/internal/store"
)

// fakeStore is a minimal in-memory store.Store, the same shape used in
// internal/command's tests, good enough to exercise the tail endpoint
// without a database.
type fakeStore struct {
	events []store.Event
}

func (f *fakeStore) Append(ctx context.Context, events []store.InputEvent) (store.Cursor, error) {
	return f.AppendIf(ctx, events, store.AppendCondition{})
}

func (f *fakeStore) AppendIf(ctx context.Context, events []store.InputEvent, _ store.AppendCondition) (store.Cursor, error) {
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
		if e.Position <= after.Position {
			continue
		}
		if query != nil && len(query.Items()) > 0 && !store.MatchesQuery(e, query) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Project(ctx context.Context, query store.Query, after store.Cursor, projectors []store.StateProjector) (any, store.Cursor, error) {
	return nil, after, nil
}

func (f *fakeStore) CurrentPosition(ctx context.Context) (int64, error) {
	return int64(len(f.events)), nil
}

func (f *fakeStore) Pool() *pgxpool.Pool { return nil }

func (f *fakeStore) Bootstrap(ctx context.Context) error { return nil }

func newService(t *testing.T, fs *fakeStore, ids []string) (*adminapi.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	progress := processor.NewProgressStore(db)
	return adminapi.NewService(fs, progress, ids), mock
}

func TestHandleGetProcessor_UnknownReturns404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newService(t, &fakeStore{}, nil)
	r := gin.New()
	svc.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/processors/ghost", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleGetProcessor_KnownReturnsRow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, mock := newService(t, &fakeStore{}, []string{"wallet-projector"})
	r := gin.New()
	svc.RegisterRoutes(r)

	rows := sqlmock.NewRows([]string{"processor_id", "last_position", "status", "error_count", "coalesce", "coalesce", "updated_at"}).
		AddRow("wallet-projector", int64(42), "ACTIVE", 0, "", "", time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	mock.ExpectQuery("SELECT processor_id, last_position, status").WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/processors/wallet-projector", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleTail_FiltersByTypeAndAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fs := &fakeStore{}
	fs.events = []store.Event{
		{Type: "WalletOpened", Position: 1, Data: []byte(`{}`)},
		{Type: "FundsDeposited", Position: 2, Data: []byte(`{}`)},
	}
	svc, _ := newService(t, fs, nil)
	r := gin.New()
	svc.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/tail?types=FundsDeposited&after=0", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "FundsDeposited")
	require.NotContains(t, resp.Body.String(), "WalletOpened")
}

func TestHandleTail_RejectsMalformedTag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newService(t, &fakeStore{}, nil)
	r := gin.New()
	svc.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/tail?tags=not-a-pair", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}
