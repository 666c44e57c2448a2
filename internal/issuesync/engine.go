package issuesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
	"github.com/beadhub/beadhub/internal/telemetry"
)

// IntentRecorder records notification outbox intents for a batch of status
// changes, in the same transaction as the bead upserts that produced them.
// Implemented by internal/outbox; taken as an interface here to avoid an
// import cycle.
type IntentRecorder interface {
	RecordIntents(ctx context.Context, tx *sqlstore.Tx, projectID string, changes []model.StatusChange) error
}

// SyncResult summarizes one full or incremental sync call.
type SyncResult struct {
	IssuesAdded   int
	IssuesUpdated int
	Conflicts     []string
	StatusChanges []model.StatusChange
}

// Engine implements the IssueSyncEngine.
type Engine struct {
	pool   *sqlstore.Pool
	outbox IntentRecorder
}

// New builds an Engine over pool, recording outbox intents via outbox.
func New(pool *sqlstore.Pool, outbox IntentRecorder) *Engine {
	return &Engine{pool: pool, outbox: outbox}
}

// FullSync parses body as JSONL and upserts every issue into beads_issues,
// keyed on (project_id, repo, branch, bead_id), all in one transaction
// alongside the notification outbox intents it produces.
func (e *Engine) FullSync(ctx context.Context, projectID string, body []byte) (SyncResult, error) {
	records, err := ParseJSONL(body)
	if err != nil {
		return SyncResult{}, err
	}
	return e.applyBatch(ctx, projectID, records, nil)
}

// IncrementalInput carries an incremental sync's optional payloads.
type IncrementalInput struct {
	ChangedIssuesBody []byte
	DeletedIDs        []model.BeadRef
}

// IncrementalSync applies an optional changed_issues JSONL body and an
// optional deleted_ids list. Deleted ids are resolved to their current
// titles first, for downstream notification enrichment, then removed.
func (e *Engine) IncrementalSync(ctx context.Context, projectID string, in IncrementalInput) (SyncResult, error) {
	var records []IssueRecord
	if len(in.ChangedIssuesBody) > 0 {
		var err error
		records, err = ParseJSONL(in.ChangedIssuesBody)
		if err != nil {
			return SyncResult{}, err
		}
	}
	return e.applyBatch(ctx, projectID, records, in.DeletedIDs)
}

func (e *Engine) applyBatch(ctx context.Context, projectID string, records []IssueRecord, deletes []model.BeadRef) (SyncResult, error) {
	start := time.Now()
	var result SyncResult

	err := e.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		for _, rec := range records {
			changed, conflicted, err := applyOne(ctx, tx, projectID, rec, &result)
			if err != nil {
				return err
			}
			if conflicted {
				result.Conflicts = append(result.Conflicts, rec.BeadID)
			}
			if changed != nil {
				result.StatusChanges = append(result.StatusChanges, *changed)
			}
		}

		for _, ref := range deletes {
			change, err := deleteOne(ctx, tx, projectID, ref)
			if err != nil {
				return err
			}
			if change != nil {
				result.StatusChanges = append(result.StatusChanges, *change)
			}
		}

		if e.outbox != nil && len(result.StatusChanges) > 0 {
			if err := e.outbox.RecordIntents(ctx, tx, projectID, result.StatusChanges); err != nil {
				return fmt.Errorf("recording outbox intents: %w", err)
			}
		}
		return nil
	})
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		telemetry.RecordSync(ctx, projectID, 0, 0, len(result.Conflicts), durationMs, err)
		return SyncResult{}, err
	}
	telemetry.RecordSync(ctx, projectID, result.IssuesAdded, result.IssuesUpdated, len(result.Conflicts), durationMs, nil)
	return result, nil
}

// applyOne upserts a single record with optimistic locking: if the stored
// row's updated_at is strictly greater than the incoming value, the write
// is skipped and the bead is reported as a conflict. result's added/updated
// counters are incremented in place.
func applyOne(ctx context.Context, tx *sqlstore.Tx, projectID string, rec IssueRecord, result *SyncResult) (*model.StatusChange, bool, error) {
	var existingStatus string
	var existingUpdatedAt sql.NullTime
	row := tx.QueryRowContext(ctx, `
		SELECT status, updated_at FROM {{tables.beads_issues}}
		WHERE project_id = $1 AND repo = $2 AND branch = $3 AND bead_id = $4
		FOR UPDATE`,
		projectID, rec.Repo, rec.Branch, rec.BeadID)
	err := row.Scan(&existingStatus, &existingUpdatedAt)

	switch {
	case err == sql.ErrNoRows:
		if err := insertIssue(ctx, tx, projectID, rec); err != nil {
			return nil, false, err
		}
		result.IssuesAdded++
		return &model.StatusChange{
			BeadID: rec.BeadID, Repo: rec.Repo, Branch: rec.Branch,
			NewStatus: rec.Status, Title: rec.Title,
		}, false, nil

	case err != nil:
		return nil, false, fmt.Errorf("locking bead %s: %w", rec.BeadID, err)

	case existingUpdatedAt.Valid && existingUpdatedAt.Time.After(rec.UpdatedAt):
		return nil, true, nil

	default:
		if err := updateIssue(ctx, tx, projectID, rec); err != nil {
			return nil, false, err
		}
		result.IssuesUpdated++
		if existingStatus == rec.Status {
			return nil, false, nil
		}
		return &model.StatusChange{
			BeadID: rec.BeadID, Repo: rec.Repo, Branch: rec.Branch,
			OldStatus: existingStatus, NewStatus: rec.Status, Title: rec.Title,
		}, false, nil
	}
}

func insertIssue(ctx context.Context, tx *sqlstore.Tx, projectID string, rec IssueRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO {{tables.beads_issues}}
			(project_id, repo, branch, bead_id, title, description, status,
			 priority, issue_type, assignee, created_by, labels, blocked_by,
			 parent_id, updated_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())`,
		projectID, rec.Repo, rec.Branch, rec.BeadID, rec.Title, rec.Description, rec.Status,
		rec.Priority, rec.IssueType, rec.Assignee, rec.CreatedBy,
		pq.Array(rec.Labels), mustJSON(rec.BlockedBy), mustJSONPtr(rec.ParentID), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting bead %s: %w", rec.BeadID, err)
	}
	return nil
}

func updateIssue(ctx context.Context, tx *sqlstore.Tx, projectID string, rec IssueRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE {{tables.beads_issues}}
		SET title = $1, description = $2, status = $3, priority = $4, issue_type = $5,
		    assignee = $6, created_by = $7, labels = $8, blocked_by = $9, parent_id = $10,
		    updated_at = $11, synced_at = now()
		WHERE project_id = $12 AND repo = $13 AND branch = $14 AND bead_id = $15`,
		rec.Title, rec.Description, rec.Status, rec.Priority, rec.IssueType,
		rec.Assignee, rec.CreatedBy, pq.Array(rec.Labels), mustJSON(rec.BlockedBy),
		mustJSONPtr(rec.ParentID), rec.UpdatedAt, projectID, rec.Repo, rec.Branch, rec.BeadID)
	if err != nil {
		return fmt.Errorf("updating bead %s: %w", rec.BeadID, err)
	}
	return nil
}

// deleteOne resolves ref's current title (for notification enrichment),
// then deletes it. Returns nil if the bead was already absent.
func deleteOne(ctx context.Context, tx *sqlstore.Tx, projectID string, ref model.BeadRef) (*model.StatusChange, error) {
	var title, status string
	row := tx.QueryRowContext(ctx, `
		SELECT title, status FROM {{tables.beads_issues}}
		WHERE project_id = $1 AND repo = $2 AND branch = $3 AND bead_id = $4
		FOR UPDATE`, projectID, ref.Repo, ref.Branch, ref.BeadID)
	switch err := row.Scan(&title, &status); {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("resolving title for deleted bead %s: %w", ref.BeadID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM {{tables.beads_issues}}
		WHERE project_id = $1 AND repo = $2 AND branch = $3 AND bead_id = $4`,
		projectID, ref.Repo, ref.Branch, ref.BeadID); err != nil {
		return nil, fmt.Errorf("deleting bead %s: %w", ref.BeadID, err)
	}

	return &model.StatusChange{
		BeadID: ref.BeadID, Repo: ref.Repo, Branch: ref.Branch,
		OldStatus: status, NewStatus: "deleted", Title: title,
	}, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func mustJSONPtr(v *model.BeadRef) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}
