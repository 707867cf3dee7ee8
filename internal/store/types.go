// Package store implements the append-only event log, its query model,
// and the projection engine that folds a filtered slice of the log into
// caller state (spec components C1-C5).
package store

import "time"

type (
	// Tag is a key-value pair attached to an event for querying.
	// Construct with NewTag; the zero value is not usable.
	Tag interface {
		isTag()
		Key() string
		Value() string
	}

	// QueryItem is a single AND-of-conditions clause: it matches an event
	// when the event's type is in EventTypes (or EventTypes is empty) AND
	// every tag in Tags is present on the event.
	QueryItem interface {
		isQueryItem()
		EventTypes() []string
		Tags() []Tag
	}

	// Query is an OR of QueryItems. An empty Query matches every event
	// when used to fetch, and no event when used as an append guard
	// (spec §3).
	Query interface {
		isQuery()
		Items() []QueryItem
	}

	// InputEvent is an event supplied by a caller for appending; the
	// store assigns Position, TransactionID and OccurredAt.
	InputEvent interface {
		isInputEvent()
		Type() string
		Tags() []Tag
		Data() []byte
	}

	// Event is a persisted, immutable event.
	Event struct {
		Type          string
		Tags          []Tag
		Data          []byte
		Position      int64
		TransactionID uint64
		OccurredAt    time.Time
	}

	// Cursor is an opaque position in the log. Ordering is by Position
	// alone; TransactionID is carried for cross-replica visibility only
	// (spec §9 Open Questions).
	Cursor struct {
		Position      int64
		TransactionID uint64
	}

	// AppendCondition guards an append: the append fails if any event
	// at a position greater than After.Position matches FailIfEventsMatch.
	AppendCondition struct {
		FailIfEventsMatch Query
		After             Cursor
	}

	// StateProjector folds events matching Query into a single shared
	// state value. A projection call can carry several projectors; each
	// contributes a transition whenever its own filter matches the event
	// (spec §4.2).
	StateProjector struct {
		ID           string
		Query        Query
		InitialState any
		Transition   func(state any, event Event) any
	}
)

// ZeroCursor is the cursor before any event; fetching after it returns
// the whole log.
var ZeroCursor = Cursor{}

func (c Cursor) IsZero() bool { return c.Position == 0 }

// After reports whether c denotes a later position than other.
func (c Cursor) After(other Cursor) bool { return c.Position > other.Position }
