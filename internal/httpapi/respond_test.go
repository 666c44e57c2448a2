package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beadhub/beadhub/internal/apierr"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"ok": "yes"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ok"] != "yes" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_APIErrUsesItsStatusAndMessage(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, apierr.NotFoundf("workspace %s not found", "ws1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	var detail errorDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if detail.Detail != "workspace ws1 not found" {
		t.Errorf("detail = %q", detail.Detail)
	}
}

func TestWriteError_UnknownErrorIsInternalAndRedacted(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("some db connection string leaked here"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var detail errorDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if detail.Detail != "internal error" {
		t.Errorf("detail = %q, want redacted message", detail.Detail)
	}
}

func TestWriteClaimRejected(t *testing.T) {
	w := httptest.NewRecorder()
	writeClaimRejected(w, "held by another agent")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	var body claimRejected
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.ClaimRejected || body.ClaimRejectedReason != "held by another agent" {
		t.Errorf("body = %+v", body)
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"alias":"a","bogus":1}`))
	var v struct {
		Alias string `json:"alias"`
	}
	err := decodeJSON(req, &v)
	if apierr.As(err).Code != apierr.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDecodeJSON_AcceptsKnownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"alias":"a"}`))
	var v struct {
		Alias string `json:"alias"`
	}
	if err := decodeJSON(req, &v); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if v.Alias != "a" {
		t.Errorf("alias = %q", v.Alias)
	}
}
