package httpapi

import (
	"net/http"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/pagination"
	"github.com/beadhub/beadhub/internal/workspace"
)

type registerRequest struct {
	WorkspaceID   string `json:"workspace_id"`
	RepoOrigin    string `json:"repo_origin"`
	Alias         string `json:"alias"`
	HumanName     string `json:"human_name"`
	Role          string `json:"role"`
	Hostname      string `json:"hostname"`
	WorkspacePath string `json:"workspace_path"`
	WorkspaceType string `json:"workspace_type"`
}

func (s *Server) handleWorkspaceRegister(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorkspaceID == "" || req.Alias == "" {
		writeError(w, apierr.Validationf("workspace_id and alias are required"))
		return
	}
	if err := authn.CheckActorBinding(id, req.WorkspaceID); err != nil {
		writeError(w, err)
		return
	}

	var repoID string
	if req.RepoOrigin != "" {
		var err error
		repoID, err = s.workspace.EnsureRepo(r.Context(), id.ProjectID, req.RepoOrigin)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	wsType := model.WorkspaceAgent
	if req.WorkspaceType == string(model.WorkspaceDashboard) {
		wsType = model.WorkspaceDashboard
	}

	in := workspace.UpsertInput{
		WorkspaceID: req.WorkspaceID, ProjectID: id.ProjectID, RepoID: repoID,
		Alias: req.Alias, HumanName: req.HumanName, Role: req.Role,
		Hostname: req.Hostname, WorkspacePath: req.WorkspacePath, Type: wsType,
	}
	if err := s.workspace.Register(r.Context(), in); err != nil {
		writeError(w, err)
		return
	}

	ws, err := s.workspace.Get(r.Context(), req.WorkspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWorkspaceDTO(ws))
}

type heartbeatRequest struct {
	registerRequest
	CurrentBranch   string `json:"current_branch"`
	Program         string `json:"program"`
	Model           string `json:"model"`
	Timezone        string `json:"timezone"`
	CanonicalOrigin string `json:"canonical_origin"`
}

func (s *Server) handleWorkspaceHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorkspaceID == "" {
		writeError(w, apierr.Validationf("workspace_id is required"))
		return
	}
	if err := authn.CheckActorBinding(id, req.WorkspaceID); err != nil {
		writeError(w, err)
		return
	}

	var repoID string
	if req.RepoOrigin != "" {
		var err error
		repoID, err = s.workspace.EnsureRepo(r.Context(), id.ProjectID, req.RepoOrigin)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	wsType := model.WorkspaceAgent
	if req.WorkspaceType == string(model.WorkspaceDashboard) {
		wsType = model.WorkspaceDashboard
	}

	in := workspace.HeartbeatInput{
		UpsertInput: workspace.UpsertInput{
			WorkspaceID: req.WorkspaceID, ProjectID: id.ProjectID, RepoID: repoID,
			Alias: req.Alias, HumanName: req.HumanName, Role: req.Role,
			Hostname: req.Hostname, WorkspacePath: req.WorkspacePath, Type: wsType,
		},
		CurrentBranch:   req.CurrentBranch,
		Program:         req.Program,
		Model:           req.Model,
		Timezone:        req.Timezone,
		CanonicalOrigin: req.CanonicalOrigin,
		TTL:             s.presenceTTL,
	}
	if err := s.workspace.Heartbeat(r.Context(), in); err != nil {
		writeError(w, err)
		return
	}

	ws, err := s.workspace.Get(r.Context(), req.WorkspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWorkspaceDTO(ws))
}

func (s *Server) handleWorkspaceDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())
	workspaceID := r.PathValue("workspace_id")
	if err := authn.CheckActorBinding(id, workspaceID); err != nil {
		writeError(w, err)
		return
	}
	s.mutationhook.OnMutation(r.Context(), "agent.deregistered", map[string]any{
		"recipient_workspace_id": workspaceID,
		"workspace_id":           workspaceID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkspaceRestore(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())
	workspaceID := r.PathValue("workspace_id")
	if err := authn.CheckActorBinding(id, workspaceID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.workspace.Restore(r.Context(), workspaceID); err != nil {
		writeError(w, err)
		return
	}
	ws, err := s.workspace.Get(r.Context(), workspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWorkspaceDTO(ws))
}

func (s *Server) handleWorkspaceGet(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspace_id")
	ws, err := s.workspace.Get(r.Context(), workspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWorkspaceDTO(ws))
}

type listResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func (s *Server) handleWorkspaceList(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	cursor, err := pagination.Decode(r.URL.Query().Get("cursor"), "last_seen_at", "workspace_id")
	if err != nil {
		writeError(w, err)
		return
	}

	filter := workspace.ListFilter{
		RepoID: r.URL.Query().Get("repo_id"),
		Type:   r.URL.Query().Get("workspace_type"),
	}
	limit := parseLimit(r, 200, 1000)

	list, next, err := s.workspace.List(r.Context(), id.ProjectID, filter, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[workspaceDTO]{Items: newWorkspaceDTOs(list), NextCursor: next})
}

func parseLimit(r *http.Request, def, max int) int {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return def
	}
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] < '0' || q[i] > '9' {
			return def
		}
		n = n*10 + int(q[i]-'0')
	}
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
