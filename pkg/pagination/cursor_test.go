package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ts time.Time
	id string
}

func (t testItem) CursorTimestamp() time.Time { return t.ts }
func (t testItem) CursorID() string           { return t.id }

func TestCursor_RoundTrip(t *testing.T) {
	t.Parallel()

	c := Cursor{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ID: "abc123"}
	decoded, err := Decode(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode("not-a-valid-cursor!!!")
	assert.Error(t, err)
}

func TestBuildPage_HasMoreAndBounds(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := make([]testItem, 0, 21)
	for i := 0; i < 21; i++ {
		items = append(items, testItem{ts: now.Add(-time.Duration(i) * time.Minute), id: string(rune('a' + i))})
	}

	page := BuildPage(items, 20)
	assert.Len(t, page.Items, 20)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)
	assert.NotEmpty(t, page.PrevCursor)
}

func TestBuildPage_NoMore(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []testItem{{ts: now, id: "a"}, {ts: now.Add(-time.Minute), id: "b"}}

	page := BuildPage(items, 20)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

// TestCursorStability exercises the invariant from the specification's
// end-to-end scenario 6: inserting newer items between two fetches must
// not introduce duplicates or out-of-order items across the page
// boundary.
func TestCursorStability_NoDuplicatesAcrossInsert(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	// Simulate 50 existing activities, newest first.
	all := make([]testItem, 0, 50)
	for i := 0; i < 50; i++ {
		all = append(all, testItem{ts: now.Add(-time.Duration(i) * time.Minute), id: string(rune('a' + i%26))})
	}

	pageA := BuildPage(all[:21], 20)
	require.True(t, pageA.HasMore)
	cursorA, err := Decode(pageA.NextCursor)
	require.NoError(t, err)

	// Insert 5 new, newer activities at the front.
	newer := make([]testItem, 0, 5)
	for i := 1; i <= 5; i++ {
		newer = append(newer, testItem{ts: now.Add(time.Duration(i) * time.Minute), id: "new" + string(rune('0'+i))})
	}
	grown := append(append([]testItem{}, newer...), all...)

	// Page B: everything strictly older than cursorA.
	var tail []testItem
	for _, it := range grown {
		if it.CursorTimestamp().Before(cursorA.Timestamp) {
			tail = append(tail, it)
		}
	}
	pageB := BuildPage(tail, 20)

	seenA := map[string]bool{}
	for _, it := range pageA.Items {
		seenA[it.CursorID()+it.CursorTimestamp().String()] = true
	}
	for _, it := range pageB.Items {
		key := it.CursorID() + it.CursorTimestamp().String()
		assert.False(t, seenA[key], "page B must not repeat a page A item")
		assert.True(t, it.CursorTimestamp().Before(cursorA.Timestamp))
	}
}
