package httpapi

import (
	"net/http"

	"github.com/beadhub/beadhub/internal/bootstrap"
)

type initRequest struct {
	ProjectSlug string `json:"project_slug"`
	HumanName   string `json:"human_name"`
	Role        string `json:"role"`
	Hostname    string `json:"hostname"`
	RepoOrigin  string `json:"repo_origin"`
	AliasHint   string `json:"alias_hint"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.bootstrap.Bootstrap(r.Context(), bootstrap.Input{
		ProjectSlug: req.ProjectSlug,
		HumanName:   req.HumanName,
		Role:        req.Role,
		Hostname:    req.Hostname,
		RepoOrigin:  req.RepoOrigin,
		AliasHint:   req.AliasHint,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInitResponseDTO(res))
}
