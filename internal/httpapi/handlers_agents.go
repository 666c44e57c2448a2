package httpapi

import (
	"net/http"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/authn"
)

// handleAgentsMeDelete lets an agent deregister itself without knowing its
// own workspace id in advance — the bearer token already identifies it.
func (s *Server) handleAgentsMeDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())
	if id.AgentID == "" {
		writeError(w, apierr.Authorizationf("this endpoint requires bearer-mode authentication"))
		return
	}
	s.mutationhook.OnMutation(r.Context(), "agent.deregistered", map[string]any{
		"recipient_workspace_id": id.AgentID,
		"workspace_id":           id.AgentID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type agentDTO struct {
	AgentID   string `json:"agent_id"`
	ProjectID string `json:"project_id"`
	Alias     string `json:"alias"`
	HumanName string `json:"human_name,omitempty"`
}

// handleAgentsList returns the live agents in the caller's project, the
// introspection view a dashboard uses to resolve alias -> agent_id before
// issuing a proxy-mode request on that agent's behalf.
func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	agents, err := s.agents.List(r.Context(), id.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]agentDTO, len(agents))
	for i, a := range agents {
		out[i] = agentDTO{AgentID: a.AgentID, ProjectID: a.ProjectID, Alias: a.Alias, HumanName: a.HumanName}
		if id.PublicReader() {
			out[i].HumanName = ""
		}
	}
	writeJSON(w, http.StatusOK, listResponse[agentDTO]{Items: out})
}
