// Package escalations implements Escalation CRUD and the expiry sweep
// supplemented from the original routes/escalations.py handlers: agents
// raise a question for a human, a human (or another workspace acting on
// their behalf) responds, and a background sweep marks unanswered
// escalations expired once their deadline passes.
package escalations

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

// DefaultTimeout is how long an escalation waits for a response before the
// sweeper marks it expired, absent an explicit expires_at.
const DefaultTimeout = 24 * time.Hour

// Registry is the Escalation CRUD implementation.
type Registry struct {
	pool *sqlstore.Pool
	now  func() time.Time
}

// New builds a Registry over pool.
func New(pool *sqlstore.Pool) *Registry {
	return &Registry{pool: pool, now: time.Now}
}

// CreateInput carries the fields of a new escalation.
type CreateInput struct {
	ProjectID   string
	WorkspaceID string
	Alias       string
	MemberEmail string
	Subject     string
	Situation   string
	Options     []string
	Timeout     time.Duration
}

// Create inserts a new pending escalation and returns its id.
func (r *Registry) Create(ctx context.Context, in CreateInput) (string, error) {
	if in.Subject == "" || in.Situation == "" {
		return "", apierr.Validationf("subject and situation are required")
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var memberEmail any
	if in.MemberEmail != "" {
		memberEmail = in.MemberEmail
	}

	id := uuid.NewString()
	expiresAt := r.now().Add(timeout)
	_, err := r.pool.ExecContext(ctx, `
		INSERT INTO {{tables.escalations}}
			(id, project_id, workspace_id, alias, member_email, subject, situation, options, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, in.ProjectID, in.WorkspaceID, in.Alias, memberEmail, in.Subject, in.Situation,
		pq.Array(in.Options), expiresAt)
	if err != nil {
		return "", fmt.Errorf("inserting escalation: %w", err)
	}
	return id, nil
}

// Get fetches one escalation scoped to its project.
func (r *Registry) Get(ctx context.Context, projectID, id string) (model.Escalation, error) {
	row := r.pool.QueryRowContext(ctx, `
		SELECT id, project_id, workspace_id, alias, member_email, subject, situation, options,
		       status, response, response_note, created_at, responded_at, expires_at
		FROM {{tables.escalations}}
		WHERE project_id = $1 AND id = $2`, projectID, id)
	e, err := scanEscalation(row.Scan)
	if err == sql.ErrNoRows {
		return model.Escalation{}, apierr.NotFoundf("escalation %s not found", id)
	}
	if err != nil {
		return model.Escalation{}, fmt.Errorf("scanning escalation: %w", err)
	}
	return e, nil
}

// List returns escalations in a project, optionally filtered to status.
func (r *Registry) List(ctx context.Context, projectID, status string) ([]model.Escalation, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = r.pool.QueryContext(ctx, `
			SELECT id, project_id, workspace_id, alias, member_email, subject, situation, options,
			       status, response, response_note, created_at, responded_at, expires_at
			FROM {{tables.escalations}}
			WHERE project_id = $1 AND status = $2
			ORDER BY created_at DESC`, projectID, status)
	} else {
		rows, err = r.pool.QueryContext(ctx, `
			SELECT id, project_id, workspace_id, alias, member_email, subject, situation, options,
			       status, response, response_note, created_at, responded_at, expires_at
			FROM {{tables.escalations}}
			WHERE project_id = $1
			ORDER BY created_at DESC`, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing escalations: %w", err)
	}
	defer rows.Close()

	var out []model.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RespondInput carries a human's answer to a pending escalation.
type RespondInput struct {
	ProjectID    string
	ID           string
	Response     string
	ResponseNote string
}

// Respond transitions a pending escalation to responded. Responding to an
// already-responded or expired escalation is a conflict — escalations
// answer exactly once.
func (r *Registry) Respond(ctx context.Context, in RespondInput) error {
	res, err := r.pool.ExecContext(ctx, `
		UPDATE {{tables.escalations}}
		SET status = 'responded', response = $1, response_note = $2, responded_at = now()
		WHERE project_id = $3 AND id = $4 AND status = 'pending'`,
		in.Response, nullIfEmpty(in.ResponseNote), in.ProjectID, in.ID)
	if err != nil {
		return fmt.Errorf("responding to escalation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking respond result: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, in.ProjectID, in.ID); err != nil {
			return err
		}
		return apierr.Conflictf("escalation %s already resolved", in.ID)
	}
	return nil
}

// SweepExpired marks every pending escalation past its expires_at as
// expired and returns how many were swept, for the background ticker to
// log.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	res, err := r.pool.ExecContext(ctx, `
		UPDATE {{tables.escalations}}
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired escalations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking sweep result: %w", err)
	}
	return int(n), nil
}

// RunSweeper ticks SweepExpired every interval until ctx is canceled,
// mirroring the teacher's daemon package's ticker-driven background loop
// (internal/daemon's NudgeManager.run).
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.SweepExpired(ctx); err != nil {
				log.Printf("escalations: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("escalations: expired %d escalation(s)", n)
			}
		}
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanEscalation(scan func(dest ...any) error) (model.Escalation, error) {
	var e model.Escalation
	var memberEmail, response, responseNote sql.NullString
	var respondedAt, expiresAt sql.NullTime
	err := scan(&e.ID, &e.ProjectID, &e.WorkspaceID, &e.Alias, &memberEmail, &e.Subject, &e.Situation,
		pq.Array(&e.Options), &e.Status, &response, &responseNote, &e.CreatedAt, &respondedAt, &expiresAt)
	if err != nil {
		return model.Escalation{}, err
	}
	if memberEmail.Valid {
		e.MemberEmail = &memberEmail.String
	}
	if response.Valid {
		e.Response = &response.String
	}
	if responseNote.Valid {
		e.ResponseNote = &responseNote.String
	}
	if respondedAt.Valid {
		e.RespondedAt = &respondedAt.Time
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return e, nil
}
