package issuesync

import (
	"bytes"
	"strings"
	"testing"

	"github.com/beadhub/beadhub/internal/apierr"
)

func TestParseJSONL_Basic(t *testing.T) {
	body := []byte(`{"bead_id":"bd-1","repo":"widgets","branch":"main","title":"Fix bug","status":"open","updated_at":"2026-01-01T00:00:00Z"}
{"bead_id":"bd-2","repo":"widgets","branch":"main","title":"Add feature","status":"open","updated_at":"2026-01-01T00:00:00Z"}`)

	recs, err := ParseJSONL(body)
	if err != nil {
		t.Fatalf("ParseJSONL() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ParseJSONL() returned %d records, want 2", len(recs))
	}
	if recs[0].BeadID != "bd-1" || recs[1].BeadID != "bd-2" {
		t.Errorf("ParseJSONL() = %+v", recs)
	}
}

func TestParseJSONL_SkipsBlankLines(t *testing.T) {
	body := []byte("\n{\"bead_id\":\"bd-1\"}\n\n")
	recs, err := ParseJSONL(body)
	if err != nil {
		t.Fatalf("ParseJSONL() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ParseJSONL() returned %d records, want 1", len(recs))
	}
}

func TestParseJSONL_BodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("a"), MaxBodyBytes+1)
	_, err := ParseJSONL(body)
	if apierr.As(err).Code != apierr.CodeFormat {
		t.Errorf("expected format error for oversized body, got %v", err)
	}
}

func TestParseJSONL_TooManyEntries(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxEntries+1; i++ {
		b.WriteString(`{"bead_id":"bd"}` + "\n")
	}
	_, err := ParseJSONL([]byte(b.String()))
	if apierr.As(err).Code != apierr.CodeFormat {
		t.Errorf("expected format error for too many entries, got %v", err)
	}
}

func TestParseJSONL_MissingBeadID(t *testing.T) {
	_, err := ParseJSONL([]byte(`{"title":"no id"}`))
	if apierr.As(err).Code != apierr.CodeFormat {
		t.Errorf("expected format error for missing bead_id, got %v", err)
	}
}

func TestParseJSONL_MalformedJSON(t *testing.T) {
	_, err := ParseJSONL([]byte(`{not json`))
	if apierr.As(err).Code != apierr.CodeFormat {
		t.Errorf("expected format error for malformed JSON, got %v", err)
	}
}

func TestJSONMaxDepth(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`{"a":1}`, 1},
		{`{"a":{"b":1}}`, 2},
		{`{"a":[1,2,3]}`, 2},
		{`{"a":{"b":{"c":{"d":1}}}}`, 4},
		{`"flat string"`, 0},
	}
	for _, tc := range cases {
		got, err := jsonMaxDepth([]byte(tc.raw))
		if err != nil {
			t.Fatalf("jsonMaxDepth(%q) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("jsonMaxDepth(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestParseJSONL_ExceedsNestDepth(t *testing.T) {
	// 11 levels of nesting, one over MaxNestDepth.
	nested := `{"bead_id":"bd-1","x":{"a":{"b":{"c":{"d":{"e":{"f":{"g":{"h":{"i":{"j":1}}}}}}}}}}}`
	_, err := ParseJSONL([]byte(nested))
	if apierr.As(err).Code != apierr.CodeFormat {
		t.Errorf("expected format error for excess nesting, got %v", err)
	}
}
