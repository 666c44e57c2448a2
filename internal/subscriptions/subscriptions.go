// Package subscriptions implements the per-workspace bead subscription
// registry from spec.md §4 ("Subscriptions") and serves as the
// outbox.SubscriptionResolver consulted by NotificationOutbox when it
// fans status changes out to subscribers.
package subscriptions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

// Registry is the Subscriptions implementation.
type Registry struct {
	pool *sqlstore.Pool
}

// New builds a Registry over pool.
func New(pool *sqlstore.Pool) *Registry {
	return &Registry{pool: pool}
}

// SubscribeInput carries the fields of a subscribe request.
type SubscribeInput struct {
	ProjectID   string
	WorkspaceID string
	BeadID      string
	Repo        string // optional; "" means any repo
	EventTypes  []string
}

// Subscribe idempotently upserts a subscription on (project_id,
// workspace_id, bead_id, repo): calling it twice with the same key
// updates event_types in place rather than creating a second row
// (spec.md §8: "Subscribe(...) twice ⇒ one subscription").
func (r *Registry) Subscribe(ctx context.Context, in SubscribeInput) (string, error) {
	if in.BeadID == "" {
		return "", apierr.Validationf("bead_id is required")
	}
	if len(in.EventTypes) == 0 {
		in.EventTypes = []string{"status_change"}
	}

	var repoArg any
	if in.Repo != "" {
		repoArg = in.Repo
	}

	var id string
	row := r.pool.QueryRowContext(ctx, `
		INSERT INTO {{tables.subscriptions}} (id, project_id, workspace_id, bead_id, repo, event_types)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, workspace_id, bead_id, repo)
		DO UPDATE SET event_types = EXCLUDED.event_types
		RETURNING id`,
		uuid.NewString(), in.ProjectID, in.WorkspaceID, in.BeadID, repoArg, pq.Array(in.EventTypes))
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("upserting subscription: %w", err)
	}
	return id, nil
}

// List returns every subscription a workspace holds within a project.
func (r *Registry) List(ctx context.Context, projectID, workspaceID string) ([]model.Subscription, error) {
	rows, err := r.pool.QueryContext(ctx, `
		SELECT id, project_id, workspace_id, bead_id, repo, event_types, created_at
		FROM {{tables.subscriptions}}
		WHERE project_id = $1 AND workspace_id = $2
		ORDER BY created_at DESC`, projectID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var s model.Subscription
		var repo sql.NullString
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.WorkspaceID, &s.BeadID, &repo, pq.Array(&s.EventTypes), &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if repo.Valid {
			s.Repo = &repo.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a subscription by id, scoped to the owning project so a
// caller cannot delete another tenant's row by guessing an id.
func (r *Registry) Delete(ctx context.Context, projectID, subscriptionID string) error {
	res, err := r.pool.ExecContext(ctx, `
		DELETE FROM {{tables.subscriptions}} WHERE id = $1 AND project_id = $2`,
		subscriptionID, projectID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return apierr.NotFoundf("subscription %s not found", subscriptionID)
	}
	return nil
}

// ResolveSubscribers implements outbox.SubscriptionResolver: it returns the
// workspace ids subscribed to beadID in repo via event type "status_change"
// or "all" (spec.md §4.6: "Subscribers are resolved by (project_id,
// bead_id, event_type ∈ {status_change, all}), optionally filtered by
// repo").
func (r *Registry) ResolveSubscribers(ctx context.Context, tx *sqlstore.Tx, projectID, repo, beadID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT workspace_id FROM {{tables.subscriptions}}
		WHERE project_id = $1 AND bead_id = $2
		  AND (repo IS NULL OR repo = $3)
		  AND event_types && ARRAY['status_change', 'all']::text[]`,
		projectID, beadID, repo)
	if err != nil {
		return nil, fmt.Errorf("resolving subscribers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var workspaceID string
		if err := rows.Scan(&workspaceID); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		out = append(out, workspaceID)
	}
	return out, rows.Err()
}
