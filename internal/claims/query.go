package claims

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/pagination"
)

// List returns live claims for projectID, optionally narrowed to
// workspaceID, ordered and cursor-paginated on claimed_at DESC, bead_id
// DESC.
func (c *Coordinator) List(ctx context.Context, projectID, workspaceID string, cursor pagination.Cursor, limit int) ([]model.Claim, string, error) {
	query := `
		SELECT project_id, bead_id, workspace_id, alias, human_name,
		       apex_bead_id, apex_repo_name, apex_branch, claimed_at
		FROM {{tables.bead_claims}}
		WHERE project_id = $1`
	args := []any{projectID}

	if workspaceID != "" {
		args = append(args, workspaceID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if claimedAt, ok := cursor["claimed_at"]; ok {
		beadID := cursor["bead_id"]
		args = append(args, claimedAt, beadID)
		query += fmt.Sprintf(" AND (claimed_at, bead_id) < ($%d, $%d)", len(args)-1, len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY claimed_at DESC, bead_id DESC LIMIT $%d", len(args))

	rows, err := c.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	var list []model.Claim
	for rows.Next() {
		var cl model.Claim
		var apexBead, apexRepo, apexBranch sql.NullString
		if err := rows.Scan(&cl.ProjectID, &cl.BeadID, &cl.WorkspaceID, &cl.Alias, &cl.HumanName,
			&apexBead, &apexRepo, &apexBranch, &cl.ClaimedAt); err != nil {
			return nil, "", fmt.Errorf("scanning claim row: %w", err)
		}
		cl.ApexBeadID, cl.ApexRepo, cl.ApexBranch = apexBead.String, apexRepo.String, apexBranch.String
		list = append(list, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating claim rows: %w", err)
	}

	page := pagination.EncodeNext(list, limit, func(cl model.Claim) pagination.Cursor {
		return pagination.Cursor{
			"claimed_at": cl.ClaimedAt.Format(time.RFC3339Nano),
			"bead_id":    cl.BeadID,
		}
	})
	return page.Items, page.NextCursor, nil
}
