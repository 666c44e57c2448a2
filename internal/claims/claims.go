// Package claims implements the ClaimCoordinator from spec.md §4.4: apex
// resolution over a bead's parent chain, the claim upsert/delete protocol,
// and command-line parsing for sync-carried claim hints.
package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
	"github.com/beadhub/beadhub/internal/telemetry"
)

// maxApexDepth bounds the parent-chain walk so a cyclic or pathological
// parent graph can never hang a request.
const maxApexDepth = 20

// Apex identifies the root bead of a claim's ancestry chain.
type Apex struct {
	BeadID string
	Repo   string
	Branch string
}

// Coordinator implements the ClaimCoordinator.
type Coordinator struct {
	pool *sqlstore.Pool
}

// New builds a Coordinator over pool.
func New(pool *sqlstore.Pool) *Coordinator {
	return &Coordinator{pool: pool}
}

// ResolveApex walks parent_id links from (projectID, repo, branch, beadID)
// up to maxApexDepth hops, returning the last reachable bead: either a true
// root (no parent) or the node at which the depth bound was hit.
func (c *Coordinator) ResolveApex(ctx context.Context, projectID, repo, branch, beadID string) (Apex, error) {
	apex := Apex{BeadID: beadID, Repo: repo, Branch: branch}
	curRepo, curBranch, curID := repo, branch, beadID

	for i := 0; i < maxApexDepth; i++ {
		var parent sql.NullString // JSON-encoded BeadRef, or NULL
		row := c.pool.QueryRowContext(ctx, `
			SELECT parent_id FROM {{tables.beads_issues}}
			WHERE project_id = $1 AND repo = $2 AND branch = $3 AND bead_id = $4`,
			projectID, curRepo, curBranch, curID)
		if err := row.Scan(&parent); err != nil {
			if err == sql.ErrNoRows {
				return apex, nil
			}
			return Apex{}, fmt.Errorf("resolving apex: %w", err)
		}
		if !parent.Valid || parent.String == "" {
			return apex, nil
		}
		ref, err := decodeBeadRef(parent.String)
		if err != nil {
			return apex, nil // malformed parent ref: treat current node as apex
		}
		apex = Apex{BeadID: ref.BeadID, Repo: ref.Repo, Branch: ref.Branch}
		curRepo, curBranch, curID = ref.Repo, ref.Branch, ref.BeadID
	}
	return apex, nil
}

func decodeBeadRef(raw string) (model.BeadRef, error) {
	var ref model.BeadRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return model.BeadRef{}, err
	}
	if ref.BeadID == "" {
		return model.BeadRef{}, fmt.Errorf("empty parent bead id")
	}
	return ref, nil
}

// Claim holds the result of a successful upsert.
type Claim = model.Claim

// UpsertInput carries the fields of a claim request.
type UpsertInput struct {
	ProjectID   string
	BeadID      string
	Repo        string
	Branch      string
	WorkspaceID string
	Alias       string
	HumanName   string
}

// UpsertResult reports whether the claim was taken by the caller, or is
// already held by a different workspace.
type UpsertResult struct {
	Claim      model.Claim
	HeldByOther bool
}

// Upsert runs the claim protocol from spec.md §4.4 in a single transaction:
// check for an existing claim by a different workspace (no write if found),
// otherwise insert-or-update the caller's claim with apex fields, then
// update the workspace's focus_apex_* after commit.
func (c *Coordinator) Upsert(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	apex, err := c.ResolveApex(ctx, in.ProjectID, in.Repo, in.Branch, in.BeadID)
	if err != nil {
		return UpsertResult{}, err
	}

	var result UpsertResult
	err = c.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		var holder string
		row := tx.QueryRowContext(ctx, `
			SELECT workspace_id FROM {{tables.bead_claims}}
			WHERE project_id = $1 AND bead_id = $2 AND workspace_id <> $3
			LIMIT 1`, in.ProjectID, in.BeadID, in.WorkspaceID)
		switch err := row.Scan(&holder); {
		case err == nil:
			result = UpsertResult{HeldByOther: true}
			return nil
		case err != sql.ErrNoRows:
			return fmt.Errorf("checking existing claim: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO {{tables.bead_claims}}
				(project_id, bead_id, workspace_id, alias, human_name,
				 apex_bead_id, apex_repo_name, apex_branch, claimed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (project_id, bead_id, workspace_id) DO UPDATE SET
				alias = EXCLUDED.alias,
				human_name = EXCLUDED.human_name,
				apex_bead_id = EXCLUDED.apex_bead_id,
				apex_repo_name = EXCLUDED.apex_repo_name,
				apex_branch = EXCLUDED.apex_branch,
				claimed_at = EXCLUDED.claimed_at`,
			in.ProjectID, in.BeadID, in.WorkspaceID, in.Alias, in.HumanName,
			apex.BeadID, apex.Repo, apex.Branch)
		if err != nil {
			return fmt.Errorf("upserting claim: %w", err)
		}
		result = UpsertResult{Claim: model.Claim{
			ProjectID: in.ProjectID, BeadID: in.BeadID, WorkspaceID: in.WorkspaceID,
			Alias: in.Alias, HumanName: in.HumanName,
			ApexBeadID: apex.BeadID, ApexRepo: apex.Repo, ApexBranch: apex.Branch,
		}}
		return nil
	})
	if err != nil {
		telemetry.RecordClaim(ctx, in.ProjectID, in.BeadID, false, err)
		return UpsertResult{}, err
	}
	if result.HeldByOther {
		conflictErr := apierr.Conflictf("bead %s is already claimed by another workspace", in.BeadID)
		telemetry.RecordClaim(ctx, in.ProjectID, in.BeadID, true, conflictErr)
		return result, conflictErr
	}

	if _, err := c.pool.ExecContext(ctx, `
		UPDATE {{tables.workspaces}}
		SET focus_apex_bead_id = $1, focus_apex_repo_name = $2, focus_apex_branch = $3,
		    focus_updated_at = now()
		WHERE workspace_id = $4`,
		apex.BeadID, apex.Repo, apex.Branch, in.WorkspaceID); err != nil {
		telemetry.RecordClaim(ctx, in.ProjectID, in.BeadID, false, err)
		return result, fmt.Errorf("updating workspace focus apex: %w", err)
	}
	telemetry.RecordClaim(ctx, in.ProjectID, in.BeadID, false, nil)
	return result, nil
}

// Check reports whether beadID is already held by a workspace other than
// workspaceID, without writing anything — the pre-flight approval
// `/v1/bdh/command` needs before a command line is allowed to run.
func (c *Coordinator) Check(ctx context.Context, projectID, beadID, workspaceID string) (holder model.Claim, heldByOther bool, err error) {
	row := c.pool.QueryRowContext(ctx, `
		SELECT workspace_id, alias, human_name FROM {{tables.bead_claims}}
		WHERE project_id = $1 AND bead_id = $2 AND workspace_id <> $3
		LIMIT 1`, projectID, beadID, workspaceID)
	var cl model.Claim
	switch err := row.Scan(&cl.WorkspaceID, &cl.Alias, &cl.HumanName); {
	case err == nil:
		cl.ProjectID, cl.BeadID = projectID, beadID
		return cl, true, nil
	case err == sql.ErrNoRows:
		return model.Claim{}, false, nil
	default:
		return model.Claim{}, false, fmt.Errorf("checking claim: %w", err)
	}
}

// Delete removes a workspace's claim on a bead and repoints focus_apex_* at
// the workspace's next most recent claim, or clears it if none remain.
func (c *Coordinator) Delete(ctx context.Context, projectID, beadID, workspaceID string) error {
	return c.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM {{tables.bead_claims}}
			WHERE project_id = $1 AND bead_id = $2 AND workspace_id = $3`,
			projectID, beadID, workspaceID); err != nil {
			return fmt.Errorf("deleting claim: %w", err)
		}

		var apexBead, apexRepo, apexBranch sql.NullString
		row := tx.QueryRowContext(ctx, `
			SELECT apex_bead_id, apex_repo_name, apex_branch
			FROM {{tables.bead_claims}}
			WHERE project_id = $1 AND workspace_id = $2
			ORDER BY claimed_at DESC LIMIT 1`, projectID, workspaceID)
		switch err := row.Scan(&apexBead, &apexRepo, &apexBranch); {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE {{tables.workspaces}}
				SET focus_apex_bead_id = $1, focus_apex_repo_name = $2, focus_apex_branch = $3,
				    focus_updated_at = now()
				WHERE workspace_id = $4`,
				apexBead, apexRepo, apexBranch, workspaceID)
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				UPDATE {{tables.workspaces}}
				SET focus_apex_bead_id = NULL, focus_apex_repo_name = NULL, focus_apex_branch = NULL,
				    focus_updated_at = now()
				WHERE workspace_id = $1`, workspaceID)
		default:
			return fmt.Errorf("finding next claim: %w", err)
		}
		if err != nil {
			return fmt.Errorf("updating workspace focus apex after delete: %w", err)
		}
		return nil
	})
}

// Command is a parsed sync-carried command-line hint.
type Command struct {
	Action string // "update", "close", "delete", "reopen"
	BeadID string
	Status string // only set for "update"
}

// ParseCommandLine extracts (command, bead_id, status?) from a sync
// request's command_line hint, the same way the bd CLI's own argument
// order does: the first whitespace-separated token is the command, the
// second (if it isn't a flag) is the bead id, and --status/--status=
// carries the new status for update. Recognized commands are update,
// close, delete, and reopen; a line with no bead id (unrecognized
// command, or nothing after it) returns ok=false.
func ParseCommandLine(line string) (Command, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Command{}, false
	}

	action := parts[0]
	var beadID string
	switch action {
	case "update", "close", "delete", "reopen":
		if len(parts) >= 2 && !strings.HasPrefix(parts[1], "--") {
			beadID = parts[1]
		}
	}
	if beadID == "" {
		return Command{}, false
	}

	var status string
	if action == "update" {
		for i, p := range parts {
			if p == "--status" && i+1 < len(parts) {
				status = parts[i+1]
				break
			}
			if rest, ok := strings.CutPrefix(p, "--status="); ok {
				status = rest
				break
			}
		}
	}

	return Command{Action: action, BeadID: beadID, Status: status}, true
}

// TriggersClaimUpsert reports whether cmd represents `update --status
// in_progress`, the only command-line shape that claims a bead.
func (cmd Command) TriggersClaimUpsert() bool {
	return cmd.Action == "update" && cmd.Status == "in_progress"
}

// TriggersClaimDelete reports whether cmd represents a terminal status
// transition (close, delete, or an update to any status other than
// in_progress) that should release the claim. A bare update with no
// --status flag at all does not release the claim, and reopen never
// does either.
func (cmd Command) TriggersClaimDelete() bool {
	if cmd.Action == "close" || cmd.Action == "delete" {
		return true
	}
	return cmd.Action == "update" && cmd.Status != "" && cmd.Status != "in_progress"
}
