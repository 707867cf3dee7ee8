package store

// tag, queryItem and query are the private implementations behind the
// opaque Tag/QueryItem/Query interfaces. Callers build them only through
// the constructors below, mirroring the teacher's opaque-interface,
// private-struct convention (pkg/dcb/interfaces.go, pkg/dcb/query.go).

type tag struct {
	key   string
	value string
}

func (t tag) isTag()        {}
func (t tag) Key() string   { return t.key }
func (t tag) Value() string { return t.value }

// NewTag builds a single key/value tag. NewTag itself checks nothing;
// Append/AppendIf reject a tag with an empty key, and accept an empty value.
func NewTag(key, value string) Tag {
	return tag{key: key, value: value}
}

// Tags is a convenience constructor for building a tag set from pairs,
// e.g. Tags("wallet_id", "w1", "currency", "EUR").
func Tags(kv ...string) []Tag {
	if len(kv)%2 != 0 {
		panic("store.Tags: odd number of key/value arguments")
	}
	tags := make([]Tag, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		tags = append(tags, NewTag(kv[i], kv[i+1]))
	}
	return tags
}

type queryItem struct {
	eventTypes []string
	tags       []Tag
}

func (q queryItem) isQueryItem()        {}
func (q queryItem) EventTypes() []string { return q.eventTypes }
func (q queryItem) Tags() []Tag          { return q.tags }

// NewQueryItem builds a single AND-of-conditions item. Either eventTypes
// or tags (or both) may be supplied; an item with no event types matches
// any type.
func NewQueryItem(eventTypes []string, tags []Tag) QueryItem {
	return queryItem{eventTypes: eventTypes, tags: tags}
}

type query struct {
	items []QueryItem
}

func (q query) isQuery()         {}
func (q query) Items() []QueryItem { return q.items }

// NewQuery builds an OR-of-items query from the given items.
func NewQuery(items ...QueryItem) Query {
	return query{items: items}
}

// EmptyQuery is a Query with no items: it matches every event when
// fetching and no event when used as an append guard (spec §3).
func EmptyQuery() Query {
	return query{}
}

// QueryItemsMatchingType builds a single-item query matching any event
// of the given types, with no tag constraint.
func QueryItemsMatchingType(eventTypes ...string) Query {
	return NewQuery(NewQueryItem(eventTypes, nil))
}

// QueryItemsMatchingTags builds a single-item query matching any event
// carrying all the given tags, regardless of type.
func QueryItemsMatchingTags(tags ...Tag) Query {
	return NewQuery(NewQueryItem(nil, tags))
}

type inputEvent struct {
	eventType string
	tags      []Tag
	data      []byte
}

func (e inputEvent) isInputEvent()  {}
func (e inputEvent) Type() string   { return e.eventType }
func (e inputEvent) Tags() []Tag    { return e.tags }
func (e inputEvent) Data() []byte   { return e.data }

// NewInputEvent builds an event ready to append. Validation (non-empty
// type, non-empty tag keys) happens inside AppendIf/Append; repeated tag
// keys are allowed.
func NewInputEvent(eventType string, tags []Tag, data []byte) InputEvent {
	return inputEvent{eventType: eventType, tags: tags, data: data}
}

// MatchesQueryItem reports whether event e matches query item qi, per the
// spec §3 match semantics: empty event types matches any type, and every
// tag in qi must be present on e (containment, not equality of the set).
func MatchesQueryItem(e Event, qi QueryItem) bool {
	if types := qi.EventTypes(); len(types) > 0 {
		found := false
		for _, t := range types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range qi.Tags() {
		if !hasTag(e.Tags, want) {
			return false
		}
	}
	return true
}

// MatchesQuery reports whether e matches any item of q (OR-of-AND). An
// empty query matches nothing under this predicate; callers that want
// "empty query matches everything" (fetch semantics) must special-case
// it before calling, as the SQL builder does.
func MatchesQuery(e Event, q Query) bool {
	for _, item := range q.Items() {
		if MatchesQueryItem(e, item) {
			return true
		}
	}
	return false
}

func hasTag(tags []Tag, want Tag) bool {
	for _, t := range tags {
		if t.Key() == want.Key() && t.Value() == want.Value() {
			return true
		}
	}
	return false
}
