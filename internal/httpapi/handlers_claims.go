package httpapi

import (
	"net/http"

	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/pagination"
)

func (s *Server) handleClaimsList(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	cursor, err := pagination.Decode(r.URL.Query().Get("cursor"), "claimed_at", "bead_id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := parseLimit(r, 200, 1000)

	list, next, err := s.claims.List(r.Context(), id.ProjectID, r.URL.Query().Get("workspace_id"), cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[claimDTO]{Items: newClaimDTOs(list), NextCursor: next})
}
