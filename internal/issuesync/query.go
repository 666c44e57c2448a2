package issuesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/pagination"
)

// ListFilter narrows a ListIssues call. Every field is optional.
type ListFilter struct {
	Repo   string
	Branch string
	Status string
}

// ListIssues returns beads for projectID ordered by updated_at DESC,
// priority DESC, bead_id DESC — the "sort_time, priority, bead_id" cursor
// key spec.md §6 names, with updated_at as the sort_time field.
func (e *Engine) ListIssues(ctx context.Context, projectID string, filter ListFilter, cursor pagination.Cursor, limit int) ([]model.Bead, string, error) {
	query := `
		SELECT project_id, repo, branch, bead_id, title, description, status, priority,
		       issue_type, assignee, created_by, labels, blocked_by, parent_id,
		       created_at, updated_at, synced_at
		FROM {{tables.beads_issues}}
		WHERE project_id = $1`
	args := []any{projectID}

	if filter.Repo != "" {
		args = append(args, filter.Repo)
		query += fmt.Sprintf(" AND repo = $%d", len(args))
	}
	if filter.Branch != "" {
		args = append(args, filter.Branch)
		query += fmt.Sprintf(" AND branch = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if sortTime, ok := cursor["sort_time"]; ok {
		priority := cursor["priority"]
		beadID := cursor["bead_id"]
		args = append(args, sortTime, priority, beadID)
		query += fmt.Sprintf(" AND (updated_at, priority::text, bead_id) < ($%d, $%d, $%d)", len(args)-2, len(args)-1, len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, priority DESC, bead_id DESC LIMIT $%d", len(args))

	rows, err := e.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	list, err := scanBeads(rows)
	if err != nil {
		return nil, "", err
	}

	page := pagination.EncodeNext(list, limit, func(b model.Bead) pagination.Cursor {
		return pagination.Cursor{
			"sort_time": b.UpdatedAt.Format(time.RFC3339Nano),
			"priority":  fmt.Sprintf("%d", b.Priority),
			"bead_id":   b.BeadID,
		}
	})
	return page.Items, page.NextCursor, nil
}

// ListReady returns open beads all of whose blockers are closed (or no
// longer tracked), ordered and cursor-paginated the same way as
// ListIssues.
func (e *Engine) ListReady(ctx context.Context, projectID string, cursor pagination.Cursor, limit int) ([]model.Bead, string, error) {
	query := `
		SELECT project_id, repo, branch, bead_id, title, description, status, priority,
		       issue_type, assignee, created_by, labels, blocked_by, parent_id,
		       created_at, updated_at, synced_at
		FROM {{tables.beads_issues}} b
		WHERE b.project_id = $1 AND b.status = 'open'
		  AND NOT EXISTS (
		      SELECT 1 FROM jsonb_array_elements(b.blocked_by) AS blocker
		      JOIN {{tables.beads_issues}} bb
		        ON bb.project_id = b.project_id
		       AND bb.repo = blocker->>'repo'
		       AND bb.branch = blocker->>'branch'
		       AND bb.bead_id = blocker->>'bead_id'
		      WHERE bb.status <> 'closed'
		  )`
	args := []any{projectID}

	if sortTime, ok := cursor["sort_time"]; ok {
		priority := cursor["priority"]
		beadID := cursor["bead_id"]
		args = append(args, sortTime, priority, beadID)
		query += fmt.Sprintf(" AND (b.updated_at, b.priority::text, b.bead_id) < ($%d, $%d, $%d)", len(args)-2, len(args)-1, len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY b.updated_at DESC, b.priority DESC, b.bead_id DESC LIMIT $%d", len(args))

	rows, err := e.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing ready issues: %w", err)
	}
	defer rows.Close()

	list, err := scanBeads(rows)
	if err != nil {
		return nil, "", err
	}

	page := pagination.EncodeNext(list, limit, func(b model.Bead) pagination.Cursor {
		return pagination.Cursor{
			"sort_time": b.UpdatedAt.Format(time.RFC3339Nano),
			"priority":  fmt.Sprintf("%d", b.Priority),
			"bead_id":   b.BeadID,
		}
	})
	return page.Items, page.NextCursor, nil
}

func scanBeads(rows *sql.Rows) ([]model.Bead, error) {
	var list []model.Bead
	for rows.Next() {
		var b model.Bead
		var blockedByRaw, parentIDRaw []byte
		if err := rows.Scan(&b.ProjectID, &b.Repo, &b.Branch, &b.BeadID, &b.Title, &b.Description,
			&b.Status, &b.Priority, &b.IssueType, &b.Assignee, &b.CreatedBy, pq.Array(&b.Labels),
			&blockedByRaw, &parentIDRaw, &b.CreatedAt, &b.UpdatedAt, &b.SyncedAt); err != nil {
			return nil, fmt.Errorf("scanning bead row: %w", err)
		}
		if len(blockedByRaw) > 0 {
			if err := json.Unmarshal(blockedByRaw, &b.BlockedBy); err != nil {
				return nil, fmt.Errorf("decoding blocked_by: %w", err)
			}
		}
		if len(parentIDRaw) > 0 && string(parentIDRaw) != "null" {
			var ref model.BeadRef
			if err := json.Unmarshal(parentIDRaw, &ref); err != nil {
				return nil, fmt.Errorf("decoding parent_id: %w", err)
			}
			b.ParentID = &ref
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bead rows: %w", err)
	}
	return list, nil
}
