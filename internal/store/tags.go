package store

import "strings"

// encodeTag renders a tag as the "key=value" wire form specified in
// spec §3/§6. Keys are not unique within an event's tag set.
func encodeTag(t Tag) string {
	return t.Key() + "=" + t.Value()
}

func encodeTags(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = encodeTag(t)
	}
	return out
}

// decodeTags parses the "key=value" wire form back into Tags. A value
// may itself contain "=" (split only on the first occurrence).
func decodeTags(raw []string) []Tag {
	tags := make([]Tag, 0, len(raw))
	for _, s := range raw {
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			continue
		}
		tags = append(tags, NewTag(k, v))
	}
	return tags
}

// encodeTagsArrayLiteral renders tags as a Postgres TEXT[] array
// literal, matching the teacher's encodeTagsArrayLiteral
// (pkg/dcb/append.go). Reads bind tag arrays through pgx's native
// []string encoding; appends use this helper to pass each event's tag
// set as one element of append_events_with_condition's p_tags argument,
// which the function casts back to text[].
func encodeTagsArrayLiteral(tags []string) string {
	if len(tags) == 0 {
		return "{}"
	}
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
