package pagination

import (
	"testing"

	"github.com/beadhub/beadhub/internal/apierr"
)

func TestEncodeDecode_RoundTrips(t *testing.T) {
	c := Cursor{"last_seen_at": "2026-01-01T00:00:00Z", "workspace_id": "ws-1"}
	token := Encode(c)

	got, err := Decode(token, "last_seen_at", "workspace_id")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got["last_seen_at"] != c["last_seen_at"] || got["workspace_id"] != c["workspace_id"] {
		t.Fatalf("Decode() = %+v, want %+v", got, c)
	}
}

func TestDecode_EmptyTokenIsFirstPage(t *testing.T) {
	c, err := Decode("", "workspace_id")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(c) != 0 {
		t.Fatalf("expected empty cursor, got %+v", c)
	}
}

func TestDecode_RejectsMalformedBase64(t *testing.T) {
	_, err := Decode("not-valid-base64!!!")
	assertValidation(t, err)
}

func TestDecode_RejectsIncompleteCursor(t *testing.T) {
	token := Encode(Cursor{"workspace_id": "ws-1"})
	_, err := Decode(token, "workspace_id", "last_seen_at")
	assertValidation(t, err)
}

func assertValidation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr := apierr.As(err)
	if apiErr.Code != apierr.CodeValidation {
		t.Fatalf("expected CodeValidation, got %v (%v)", apiErr.Code, err)
	}
	if apiErr.Status() != 422 {
		t.Fatalf("expected 422, got %d", apiErr.Status())
	}
}

func TestEncodeNext_TrimsExtraLookaheadRow(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := EncodeNext(items, 2, func(s string) Cursor { return Cursor{"id": s} })

	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	decoded, err := Decode(page.NextCursor, "id")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded["id"] != "b" {
		t.Fatalf("expected cursor keyed on last returned item, got %+v", decoded)
	}
}

func TestEncodeNext_NoNextCursorWhenUnderLimit(t *testing.T) {
	items := []string{"a"}
	page := EncodeNext(items, 2, func(s string) Cursor { return Cursor{"id": s} })

	if page.NextCursor != "" {
		t.Fatalf("expected no next cursor, got %q", page.NextCursor)
	}
}
