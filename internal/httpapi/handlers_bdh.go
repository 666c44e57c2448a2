package httpapi

import (
	"fmt"
	"net/http"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/claims"
	"github.com/beadhub/beadhub/internal/issuesync"
	"github.com/beadhub/beadhub/internal/model"
)

type commandRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Alias       string `json:"alias"`
	HumanName   string `json:"human_name"`
	CommandLine string `json:"command_line"`
}

// handleBDHCommand implements the pre-flight claim check a CLI runs before
// executing a command line: it never writes, it only tells the caller
// whether another workspace already holds the bead the command targets.
func (s *Server) handleBDHCommand(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authn.CheckActorBinding(id, req.WorkspaceID); err != nil {
		writeError(w, err)
		return
	}

	cmd, ok := claims.ParseCommandLine(req.CommandLine)
	if !ok || !cmd.TriggersClaimUpsert() {
		writeJSON(w, http.StatusOK, map[string]any{"claim_rejected": false})
		return
	}

	holder, heldByOther, err := s.claims.Check(r.Context(), id.ProjectID, cmd.BeadID, req.WorkspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if heldByOther {
		writeClaimRejected(w, fmt.Sprintf("%s is being worked on by %s (%s)", holder.BeadID, holder.Alias, holder.HumanName))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claim_rejected": false})
}

type beadRefRequest struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	BeadID string `json:"bead_id"`
}

func refFromRequest(r beadRefRequest) model.BeadRef {
	return model.BeadRef{Repo: r.Repo, Branch: r.Branch, BeadID: r.BeadID}
}

type syncRequest struct {
	WorkspaceID   string           `json:"workspace_id"`
	Alias         string           `json:"alias"`
	HumanName     string           `json:"human_name"`
	CommandLine   string           `json:"command_line"`
	ChangedIssues string           `json:"changed_issues"`
	DeletedIDs    []beadRefRequest `json:"deleted_ids"`
}

type syncResponse struct {
	IssuesCount         int        `json:"issues_count"`
	Stats               syncResult `json:"stats"`
	ClaimRejected       bool       `json:"claim_rejected,omitempty"`
	ClaimRejectedReason string     `json:"claim_rejected_reason,omitempty"`
}

// handleBDHSync implements the JSONL ingest + claim upsert/delete + outbox +
// event-publish orchestration spec.md §6 names for /v1/bdh/sync: the sync
// runs regardless of the command line's claim outcome, so ingest never
// blocks on a claim conflict the caller still needs to see.
func (s *Server) handleBDHSync(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.FromContext(r.Context())

	var req syncRequest
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

	in := issuesync.IncrementalInput{ChangedIssuesBody: []byte(req.ChangedIssues)}
	for _, d := range req.DeletedIDs {
		in.DeletedIDs = append(in.DeletedIDs, refFromRequest(d))
	}

	result, err := s.issues.IncrementalSync(r.Context(), id.ProjectID, in)
	if err != nil {
		writeError(w, err)
		return
	}

	for _, change := range result.StatusChanges {
		s.mutationhook.OnMutation(r.Context(), "bead.status_changed", map[string]any{
			"recipient_workspace_id": req.WorkspaceID,
			"workspace_id":           req.WorkspaceID,
			"bead_id":                change.BeadID,
			"old_status":             change.OldStatus,
			"new_status":             change.NewStatus,
		})
	}

	resp := syncResponse{
		IssuesCount: result.IssuesAdded + result.IssuesUpdated,
		Stats:       syncResultDTO(result),
	}

	cmd, ok := claims.ParseCommandLine(req.CommandLine)
	if !ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	switch {
	case cmd.TriggersClaimUpsert():
		holder, heldByOther, err := s.claims.Check(r.Context(), id.ProjectID, cmd.BeadID, req.WorkspaceID)
		if err != nil {
			writeError(w, err)
			return
		}
		if heldByOther {
			resp.ClaimRejected = true
			resp.ClaimRejectedReason = fmt.Sprintf("%s is being worked on by %s (%s)",
				cmd.BeadID, holder.Alias, holder.HumanName)
			writeJSON(w, http.StatusOK, resp)
			return
		}
		if _, err := s.claims.Upsert(r.Context(), claims.UpsertInput{
			ProjectID: id.ProjectID, BeadID: cmd.BeadID, WorkspaceID: req.WorkspaceID,
			Alias: req.Alias, HumanName: req.HumanName,
		}); err != nil {
			writeError(w, err)
			return
		}
		s.mutationhook.OnMutation(r.Context(), "bead.claimed", map[string]any{
			"recipient_workspace_id": req.WorkspaceID,
			"workspace_id":           req.WorkspaceID,
			"bead_id":                cmd.BeadID,
		})
	case cmd.TriggersClaimDelete():
		if err := s.claims.Delete(r.Context(), id.ProjectID, cmd.BeadID, req.WorkspaceID); err != nil {
			writeError(w, err)
			return
		}
		s.mutationhook.OnMutation(r.Context(), "bead.unclaimed", map[string]any{
			"recipient_workspace_id": req.WorkspaceID,
			"workspace_id":           req.WorkspaceID,
			"bead_id":                cmd.BeadID,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
