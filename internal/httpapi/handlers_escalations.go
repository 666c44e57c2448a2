package httpapi

import (
	"net/http"
	"time"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/escalations"
)

type createEscalationRequest struct {
	WorkspaceID  string   `json:"workspace_id"`
	Alias        string   `json:"alias"`
	MemberEmail  string   `json:"member_email"`
	Subject      string   `json:"subject"`
	Situation    string   `json:"situation"`
	Options      []string `json:"options"`
	TimeoutSecs  int      `json:"timeout_seconds"`
}

func (s *Server) handleEscalationCreate(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	var req createEscalationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authn.CheckActorBinding(id, req.WorkspaceID); err != nil {
		writeError(w, err)
		return
	}

	timeout := escalations.DefaultTimeout
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs) * time.Second
	}

	escID, err := s.escalations.Create(r.Context(), escalations.CreateInput{
		ProjectID: id.ProjectID, WorkspaceID: req.WorkspaceID, Alias: req.Alias,
		MemberEmail: req.MemberEmail, Subject: req.Subject, Situation: req.Situation,
		Options: req.Options, Timeout: timeout,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	esc, err := s.escalations.Get(r.Context(), id.ProjectID, escID)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mutationhook.OnMutation(r.Context(), "escalation.created", map[string]any{
		"recipient_workspace_id": req.WorkspaceID,
		"workspace_id":           req.WorkspaceID,
		"escalation_id":          escID,
	})

	writeJSON(w, http.StatusCreated, newEscalationDTO(esc))
}

func (s *Server) handleEscalationsList(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	list, err := s.escalations.List(r.Context(), id.ProjectID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[escalationDTO]{Items: newEscalationDTOs(list)})
}

type respondEscalationRequest struct {
	Response     string `json:"response"`
	ResponseNote string `json:"response_note"`
}

func (s *Server) handleEscalationRespond(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())
	escID := r.PathValue("id")

	var req respondEscalationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Response == "" {
		writeError(w, apierr.Validationf("response is required"))
		return
	}

	if err := s.escalations.Respond(r.Context(), escalations.RespondInput{
		ProjectID: id.ProjectID, ID: escID, Response: req.Response, ResponseNote: req.ResponseNote,
	}); err != nil {
		writeError(w, err)
		return
	}

	esc, err := s.escalations.Get(r.Context(), id.ProjectID, escID)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mutationhook.OnMutation(r.Context(), "escalation.responded", map[string]any{
		"recipient_workspace_id": esc.WorkspaceID,
		"workspace_id":           esc.WorkspaceID,
		"escalation_id":          escID,
	})

	writeJSON(w, http.StatusOK, newEscalationDTO(esc))
}
