package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/issuesync"
	"github.com/beadhub/beadhub/internal/pagination"
)

// asJSONL accepts either a JSON array of issue records or a raw
// newline-delimited body (spec.md §6: "Direct JSON or raw JSONL ingest")
// and returns the newline-delimited form issuesync.ParseJSONL expects.
func asJSONL(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return body, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, apierr.Formatf("malformed JSON array body: %s", err)
	}
	var buf bytes.Buffer
	for _, rec := range records {
		buf.Write(rec)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (s *Server) handleBeadsUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Validationf("reading request body: %s", err))
		return
	}
	jsonl, err := asJSONL(body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.issues.FullSync(r.Context(), id.ProjectID, jsonl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResultDTO(result))
}

func (s *Server) handleIssuesList(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	cursor, err := pagination.Decode(r.URL.Query().Get("cursor"), "sort_time", "priority", "bead_id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := parseLimit(r, 200, 1000)

	filter := issuesync.ListFilter{
		Repo:   r.URL.Query().Get("repo"),
		Branch: r.URL.Query().Get("branch"),
		Status: r.URL.Query().Get("status"),
	}

	list, next, err := s.issues.ListIssues(r.Context(), id.ProjectID, filter, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[beadDTO]{Items: newBeadDTOs(list), NextCursor: next})
}

func (s *Server) handleIssuesReady(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	cursor, err := pagination.Decode(r.URL.Query().Get("cursor"), "sort_time", "priority", "bead_id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := parseLimit(r, 200, 1000)

	list, next, err := s.issues.ListReady(r.Context(), id.ProjectID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[beadDTO]{Items: newBeadDTOs(list), NextCursor: next})
}

type syncResult struct {
	IssuesAdded   int      `json:"issues_added"`
	IssuesUpdated int      `json:"issues_updated"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

func syncResultDTO(r issuesync.SyncResult) syncResult {
	return syncResult{IssuesAdded: r.IssuesAdded, IssuesUpdated: r.IssuesUpdated, Conflicts: r.Conflicts}
}
