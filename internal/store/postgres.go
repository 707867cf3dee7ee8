package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore implements Store against PostgreSQL via pgx. Grounded on the
// teacher's eventStore (pkg/dcb/store_implementation.go, pkg/dcb/append.go).
type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Pool() *pgxpool.Pool { return s.pool }

func (s *pgStore) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return newResourceError("Bootstrap", "database", fmt.Errorf("creating schema: %w", err))
	}
	if _, err := s.pool.Exec(ctx, appendFunctionDDL); err != nil {
		return newResourceError("Bootstrap", "database", fmt.Errorf("installing append function: %w", err))
	}
	return nil
}

// --- wire shapes sent to append_events_with_condition as jsonb ---

type tagWire struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type queryItemWire struct {
	EventTypes []string  `json:"event_types"`
	Tags       []tagWire `json:"tags"`
}

type queryWire struct {
	Items []queryItemWire `json:"items"`
}

type cursorWire struct {
	Position int64 `json:"position"`
}

type conditionWire struct {
	FailIfEventsMatch *queryWire  `json:"fail_if_events_match"`
	AfterCursor       *cursorWire `json:"after_cursor"`
}

func toQueryWire(q Query) *queryWire {
	if q == nil {
		return nil
	}
	items := make([]queryItemWire, 0, len(q.Items()))
	for _, it := range q.Items() {
		tags := make([]tagWire, 0, len(it.Tags()))
		for _, t := range it.Tags() {
			tags = append(tags, tagWire{Key: t.Key(), Value: t.Value()})
		}
		items = append(items, queryItemWire{EventTypes: it.EventTypes(), Tags: tags})
	}
	return &queryWire{Items: items}
}

func validateEvents(op string, events []InputEvent) error {
	if len(events) == 0 {
		return newValidationError(op, "events", "empty", fmt.Errorf("events must not be empty"))
	}
	for i, e := range events {
		if strings.TrimSpace(e.Type()) == "" {
			return newValidationError(op, "type", fmt.Sprintf("event[%d]", i), fmt.Errorf("event at index %d has empty type", i))
		}
		for _, t := range e.Tags() {
			if t.Key() == "" {
				return newValidationError(op, "tag.key", fmt.Sprintf("event[%d]", i), fmt.Errorf("event at index %d has a tag with empty key", i))
			}
		}
	}
	return nil
}

func (s *pgStore) Append(ctx context.Context, events []InputEvent) (Cursor, error) {
	return s.appendWithGuard(ctx, events, nil)
}

func (s *pgStore) AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) (Cursor, error) {
	return s.appendWithGuard(ctx, events, &condition)
}

func (s *pgStore) appendWithGuard(ctx context.Context, events []InputEvent, condition *AppendCondition) (Cursor, error) {
	const op = "AppendIf"
	if err := validateEvents(op, events); err != nil {
		return Cursor{}, err
	}

	types := make([]string, len(events))
	tagLiterals := make([]string, len(events))
	data := make([][]byte, len(events))
	for i, e := range events {
		types[i] = e.Type()
		tagLiterals[i] = encodeTagsArrayLiteral(encodeTags(e.Tags()))
		data[i] = e.Data()
	}

	var conditionJSON []byte
	if condition != nil {
		wire := conditionWire{
			FailIfEventsMatch: toQueryWire(condition.FailIfEventsMatch),
			AfterCursor:       &cursorWire{Position: condition.After.Position},
		}
		var err error
		conditionJSON, err = json.Marshal(wire)
		if err != nil {
			return Cursor{}, newResourceError(op, "json", fmt.Errorf("marshaling append condition: %w", err))
		}
	}

	var result struct {
		Success  bool  `json:"success"`
		Position int64 `json:"position"`
		TxID     int64 `json:"tx_id"`
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT append_events_with_condition($1, $2, $3, $4)`,
		types, tagLiterals, data, conditionJSON).Scan(&raw)
	if err != nil {
		if isGuardViolation(err) {
			q := EmptyQuery()
			after := Cursor{}
			if condition != nil {
				q = condition.FailIfEventsMatch
				after = condition.After
			}
			return Cursor{}, newConcurrencyError(op, q, after, err)
		}
		return Cursor{}, newResourceError(op, "database", fmt.Errorf("appending events: %w", err))
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Cursor{}, newResourceError(op, "json", fmt.Errorf("parsing append result: %w", err))
	}

	return Cursor{Position: result.Position, TransactionID: uint64(result.TxID)}, nil
}

// isGuardViolation recognizes the P0001 error class the append function
// raises on a guard match (spec §4.1).
func isGuardViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "P0001"
	}
	return strings.Contains(err.Error(), "append condition violated")
}

// buildReadSQL compiles query/after/limit into the SQL shape from spec
// §4.2: type = ANY(...) AND tags @> ... per item, OR'd across items.
func buildReadSQL(query Query, after Cursor, limit int) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, 4)
	argN := 0
	nextArg := func(v any) string {
		argN++
		args = append(args, v)
		return "$" + strconv.Itoa(argN)
	}

	sb.WriteString("SELECT type, tags, data, position, tx_id, occurred_at FROM events")

	var where []string
	if query != nil && len(query.Items()) > 0 {
		var orParts []string
		for _, item := range query.Items() {
			var andParts []string
			if len(item.EventTypes()) > 0 {
				andParts = append(andParts, "type = ANY("+nextArg(item.EventTypes())+"::text[])")
			}
			if len(item.Tags()) > 0 {
				andParts = append(andParts, "tags @> "+nextArg(encodeTags(item.Tags()))+"::text[]")
			}
			if len(andParts) == 0 {
				// An item with neither types nor tags matches everything.
				orParts = append(orParts, "TRUE")
				continue
			}
			orParts = append(orParts, "("+strings.Join(andParts, " AND ")+")")
		}
		if len(orParts) > 0 {
			where = append(where, "("+strings.Join(orParts, " OR ")+")")
		}
	}
	if after.Position > 0 {
		where = append(where, "position > "+nextArg(after.Position))
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY position ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	return sb.String(), args
}

func (s *pgStore) Read(ctx context.Context, query Query, after Cursor, limit int) ([]Event, error) {
	const op = "Read"
	sqlText, args := buildReadSQL(query, after, limit)

	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, newResourceError(op, "database", fmt.Errorf("executing read query: %w", err))
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, newResourceError(op, "database", fmt.Errorf("scanning event row: %w", err))
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, newResourceError(op, "database", fmt.Errorf("iterating event rows: %w", err))
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (Event, error) {
	var (
		eventType string
		rawTags   []string
		data      []byte
		position  int64
		txID      int64
		occurred  time.Time
	)
	if err := rows.Scan(&eventType, &rawTags, &data, &position, &txID, &occurred); err != nil {
		return Event{}, err
	}
	return Event{
		Type:          eventType,
		Tags:          decodeTags(rawTags),
		Data:          data,
		Position:      position,
		TransactionID: uint64(txID),
		OccurredAt:    occurred,
	}, nil
}

// Project folds events matching query, in position order, through
// projectors into one shared state value (spec §4.2). Rows stream
// directly off the pgx result set rather than being materialized into
// a slice first, so large histories do not load into memory at once
// (spec's fetch-size-hint requirement).
func (s *pgStore) Project(ctx context.Context, query Query, after Cursor, projectors []StateProjector) (any, Cursor, error) {
	const op = "Project"
	sqlText, args := buildReadSQL(query, after, 0)

	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, after, newResourceError(op, "database", fmt.Errorf("executing project query: %w", err))
	}
	defer rows.Close()

	var state any
	if len(projectors) > 0 {
		state = projectors[0].InitialState
	}
	cursor := after

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, after, newResourceError(op, "database", fmt.Errorf("scanning event row: %w", err))
		}
		for _, p := range projectors {
			if p.Query == nil || MatchesQuery(ev, p.Query) {
				state = p.Transition(state, ev)
			}
		}
		cursor = Cursor{Position: ev.Position, TransactionID: ev.TransactionID}
	}
	if err := rows.Err(); err != nil {
		return nil, after, newResourceError(op, "database", fmt.Errorf("iterating event rows: %w", err))
	}
	return state, cursor, nil
}

func (s *pgStore) CurrentPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(max(position), 0) FROM events`).Scan(&pos)
	if err != nil {
		return 0, newResourceError("CurrentPosition", "database", fmt.Errorf("reading max position: %w", err))
	}
	return pos, nil
}
