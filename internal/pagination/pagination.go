// Package pagination implements the opaque cursor codec shared by the
// workspace, issue, and claim listing endpoints (spec.md §6: "URL-safe
// base64 of a JSON object containing the sort-key fields; incomplete
// cursors reject with 422").
package pagination

import (
	"encoding/base64"
	"encoding/json"

	"github.com/beadhub/beadhub/internal/apierr"
)

// Cursor is the decoded sort-key payload. Callers embed the fields their
// listing needs and use Encode/Decode to round-trip them through the
// opaque string handed to clients.
type Cursor map[string]string

// Encode serializes a cursor to the URL-safe base64 string returned to
// clients as next_cursor.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(raw)
}

// Decode parses a client-supplied cursor string, verifying that every
// field in required is present. An empty token decodes to an empty
// Cursor with no error (first page).
func Decode(token string, required ...string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, apierr.Validationf("malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, apierr.Validationf("malformed cursor")
	}
	for _, field := range required {
		if _, ok := c[field]; !ok {
			return nil, apierr.Validationf("cursor missing required field %q", field)
		}
	}
	return c, nil
}

// Page bundles a page of items with the cursor to request the next one.
// NextCursor is empty when there is no further page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// EncodeNext builds the next_cursor for a page that was fetched with
// limit+1 items: if got exceeds limit, the extra row is dropped and a
// cursor derived from the last *returned* item is produced via keyOf.
func EncodeNext[T any](items []T, limit int, keyOf func(T) Cursor) Page[T] {
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	trimmed := items[:limit]
	return Page[T]{Items: trimmed, NextCursor: Encode(keyOf(trimmed[len(trimmed)-1]))}
}

// WrapMalformed converts a low-level scan/parse error encountered while
// applying a cursor to SQL predicates into the 422 the taxonomy requires
// (spec.md §7: "Validation (422) — ... malformed cursor").
func WrapMalformed(err error) error {
	if err == nil {
		return nil
	}
	return apierr.Validationf("malformed cursor: %s", err)
}
