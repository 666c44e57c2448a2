package httpapi

import (
	"net/http"

	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/status"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	scope := status.Scope{
		WorkspaceID: r.URL.Query().Get("workspace_id"),
		RepoID:      r.URL.Query().Get("repo_id"),
		Limit:       parseLimit(r, status.DefaultLimit, status.MaxLimit),
	}

	resp, err := s.status.Compose(r.Context(), id.ProjectID, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	if id.PublicReader() {
		resp.Redact()
	}
	writeJSON(w, http.StatusOK, newStatusResponseDTO(resp))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	workspaceIDs := r.URL.Query()["workspace_id"]
	category := r.URL.Query().Get("category")

	err := s.sse.Stream(w, r, workspaceIDs, category, id.PublicReader(), func() bool {
		return r.Context().Err() != nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
}
