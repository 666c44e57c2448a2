package httpapi

import (
	"net/http"

	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/subscriptions"
)

type subscribeRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	BeadID      string   `json:"bead_id"`
	Repo        string   `json:"repo"`
	EventTypes  []string `json:"event_types"`
}

func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authn.CheckActorBinding(id, req.WorkspaceID); err != nil {
		writeError(w, err)
		return
	}

	subID, err := s.subscriptions.Subscribe(r.Context(), subscriptions.SubscribeInput{
		ProjectID: id.ProjectID, WorkspaceID: req.WorkspaceID, BeadID: req.BeadID,
		Repo: req.Repo, EventTypes: req.EventTypes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": subID})
}

func (s *Server) handleSubscriptionsList(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	list, err := s.subscriptions.List(r.Context(), id.ProjectID, r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[subscriptionDTO]{Items: newSubscriptionDTOs(list)})
}

func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())
	subID := r.PathValue("id")

	if err := s.subscriptions.Delete(r.Context(), id.ProjectID, subID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
