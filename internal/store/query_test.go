package store

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func TestTags_OddArgsPanics(t *testing.T) {
	assert.Panics(t, func() {
		Tags("wallet_id", "w1", "currency")
	})
}

func TestTags_Pairs(t *testing.T) {
	tags := Tags("wallet_id", "w1", "currency", "EUR")
	require.Len(t, tags, 2)
	assert.Equal(t, "wallet_id", tags[0].Key())
	assert.Equal(t, "w1", tags[0].Value())
	assert.Equal(t, "currency", tags[1].Key())
	assert.Equal(t, "EUR", tags[1].Value())
}

func TestMatchesQueryItem_EmptyTypesMatchesAny(t *testing.T) {
	e := Event{Type: "WalletOpened", Tags: Tags("wallet_id", "w1")}
	qi := NewQueryItem(nil, Tags("wallet_id", "w1"))
	assert.True(t, MatchesQueryItem(e, qi))
}

func TestMatchesQueryItem_TypeMismatch(t *testing.T) {
	e := Event{Type: "WalletOpened"}
	qi := NewQueryItem([]string{"WalletClosed"}, nil)
	assert.False(t, MatchesQueryItem(e, qi))
}

func TestMatchesQueryItem_MissingTagFails(t *testing.T) {
	e := Event{Type: "WalletOpened", Tags: Tags("wallet_id", "w1")}
	qi := NewQueryItem(nil, Tags("wallet_id", "w1", "currency", "EUR"))
	assert.False(t, MatchesQueryItem(e, qi))
}

func TestMatchesQuery_EmptyQueryMatchesNothing(t *testing.T) {
	e := Event{Type: "WalletOpened"}
	assert.False(t, MatchesQuery(e, EmptyQuery()))
}

func TestMatchesQuery_OrOfItems(t *testing.T) {
	e := Event{Type: "WalletClosed", Tags: Tags("wallet_id", "w2")}
	q := NewQuery(
		NewQueryItem([]string{"WalletOpened"}, nil),
		NewQueryItem([]string{"WalletClosed"}, Tags("wallet_id", "w2")),
	)
	assert.True(t, MatchesQuery(e, q))
}

func TestEncodeDecodeTags_RoundTrip(t *testing.T) {
	tags := Tags("wallet_id", "w1", "note", "a=b")
	raw := encodeTags(tags)
	assert.Equal(t, []string{"wallet_id=w1", "note=a=b"}, raw)

	decoded := decodeTags(raw)
	require.Len(t, decoded, 2)
	assert.Equal(t, "note", decoded[1].Key())
	assert.Equal(t, "a=b", decoded[1].Value())
}

func TestEncodeTagsArrayLiteral(t *testing.T) {
	assert.Equal(t, "{}", encodeTagsArrayLiteral(nil))
	assert.Equal(t, `{"wallet_id=w1"}`, encodeTagsArrayLiteral([]string{"wallet_id=w1"}))
}

func TestBuildReadSQL_EmptyQueryMatchesEverything(t *testing.T) {
	sqlText, args := buildReadSQL(EmptyQuery(), ZeroCursor, 0)
	assert.NotContains(t, sqlText, "WHERE")
	assert.Empty(t, args)
}

func TestBuildReadSQL_TypeAndTagFilterWithAfterAndLimit(t *testing.T) {
	q := QueryItemsMatchingTags(NewTag("wallet_id", "w1"))
	sqlText, args := buildReadSQL(q, Cursor{Position: 10}, 5)
	assert.Contains(t, sqlText, "tags @>")
	assert.Contains(t, sqlText, "position >")
	assert.Contains(t, sqlText, "LIMIT 5")
	require.Len(t, args, 2)
	assert.Equal(t, int64(10), args[1])
}
