package store

import (
	"sort"
	"strings"

	"go.jetify.com/typeid"
)

// newEventID mints an opaque TypeID-style identifier for a stored event,
// prefixed with the sorted tag keys so ids stay legible in logs/traces.
// Grounded on the teacher's generateTagBasedTypeID (pkg/dcb/typeid_helpers.go).
func newEventID(tags []Tag) string {
	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = t.Key()
	}
	sort.Strings(keys)
	prefix := strings.Join(keys, "_")

	const maxPrefixLength = 64 - 26 - 1
	if len(prefix) > maxPrefixLength {
		prefix = prefix[:maxPrefixLength]
	}
	if prefix == "" {
		prefix = "evt"
	}

	tid, err := typeid.WithPrefix(prefix)
	if err != nil {
		tid, _ = typeid.WithPrefix("evt")
	}
	return tid.String()
}

// newCommandID mints an opaque id for a command record.
func newCommandID() string {
	tid, err := typeid.WithPrefix("cmd")
	if err != nil {
		tid, _ = typeid.WithPrefix("c")
	}
	return tid.String()
}
