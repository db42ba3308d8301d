// Package pagination implements opaque cursor encoding and the
// forward/backward pagination invariants used by activity listing.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

// Cursor encodes a stable position in a time-ordered, uniquely-ID'd
// sequence: items strictly older than the cursor page forward, items
// strictly newer page backward.
type Cursor struct {
	Timestamp time.Time `json:"ts"`
	ID        string    `json:"id"`
}

// Encode renders the cursor as an opaque, URL-safe base64 string.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c) //nolint:errchkjson // Cursor has no unmarshalable fields.
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a cursor previously produced by Encode. Malformed input
// (including cursors not issued by this server) is rejected rather than
// guessed at.
func Decode(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, apperr.Wrap(apperr.KindInvalidParams, "malformed cursor", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, apperr.Wrap(apperr.KindInvalidParams, "malformed cursor payload", err)
	}
	return c, nil
}

// Item is anything that can be placed in a cursor-paginated sequence.
type Item interface {
	CursorTimestamp() time.Time
	CursorID() string
}

// Page is one page of cursor-paginated results.
type Page[T Item] struct {
	Items      []T
	NextCursor string // empty when there is no further page
	PrevCursor string // cursor at this page's first item; empty only when the page has no items
	HasMore    bool
}

// Params are the inputs to a cursor-paginated query.
type Params struct {
	Cursor string // empty for the first page
	Limit  int
}

// BuildPage constructs a Page from an already-sorted (descending by
// timestamp, tie-broken by ID) slice of at most limit+1 items: passing
// limit+1 lets BuildPage detect HasMore without a second round-trip.
func BuildPage[T Item](items []T, limit int) Page[T] {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	page := Page[T]{Items: items, HasMore: hasMore}
	if len(items) == 0 {
		return page
	}

	first := items[0]
	last := items[len(items)-1]
	page.PrevCursor = Cursor{Timestamp: first.CursorTimestamp(), ID: first.CursorID()}.Encode()
	if hasMore {
		page.NextCursor = Cursor{Timestamp: last.CursorTimestamp(), ID: last.CursorID()}.Encode()
	}
	return page
}

// EmulateFromOffset builds cursor semantics on top of a provider that
// only exposes page/offset pagination (spec §4.8): next_cursor is nil
// whenever the provider returned fewer than limit items.
func EmulateFromOffset[T Item](items []T, limit int) Page[T] {
	page := Page[T]{Items: items, HasMore: len(items) >= limit && limit > 0}
	if len(items) == 0 {
		return page
	}
	first := items[0]
	last := items[len(items)-1]
	page.PrevCursor = Cursor{Timestamp: first.CursorTimestamp(), ID: first.CursorID()}.Encode()
	if page.HasMore {
		page.NextCursor = Cursor{Timestamp: last.CursorTimestamp(), ID: last.CursorID()}.Encode()
	}
	return page
}
