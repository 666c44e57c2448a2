// Package workspace implements the WorkspaceRegistry from spec.md §4.3: repo
// and workspace bookkeeping in Postgres, fronted by the alias-collision
// check that also consults bead_claims and the presence index to close the
// race window before a workspace row is persisted.
package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/audit"
	"github.com/beadhub/beadhub/internal/canon"
	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/pagination"
	"github.com/beadhub/beadhub/internal/presence"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

// Registry is the WorkspaceRegistry implementation.
type Registry struct {
	pool     *sqlstore.Pool
	presence *presence.Store
	now      func() time.Time
}

// New builds a Registry over pool and presence.
func New(pool *sqlstore.Pool, presence *presence.Store) *Registry {
	return &Registry{pool: pool, presence: presence, now: time.Now}
}

// EnsureRepo canonicalizes originURL and upserts the (project_id,
// canonical_origin) repo row, clearing any soft-delete, and returns its id.
func (r *Registry) EnsureRepo(ctx context.Context, projectID, originURL string) (string, error) {
	originCanon, err := canon.Origin(originURL)
	if err != nil {
		return "", apierr.Validationf("invalid repo origin: %v", err)
	}

	var repoID string
	row := r.pool.QueryRowContext(ctx, `
		SELECT repo_id FROM {{tables.repos}}
		WHERE project_id = $1 AND canonical_origin = $2`,
		projectID, originCanon)
	err = row.Scan(&repoID)
	switch {
	case err == nil:
		if _, err := r.pool.ExecContext(ctx, `
			UPDATE {{tables.repos}} SET deleted_at = NULL, origin_url = $1
			WHERE repo_id = $2`, originURL, repoID); err != nil {
			return "", fmt.Errorf("clearing repo soft-delete: %w", err)
		}
		return repoID, nil
	case err == sql.ErrNoRows:
		repoID = uuid.NewString()
		_, err := r.pool.ExecContext(ctx, `
			INSERT INTO {{tables.repos}} (repo_id, project_id, canonical_origin, origin_url, name)
			VALUES ($1, $2, $3, $4, $5)`,
			repoID, projectID, originCanon, originURL, lastPathSegment(originCanon))
		if err != nil {
			return "", fmt.Errorf("inserting repo: %w", err)
		}
		return repoID, nil
	default:
		return "", fmt.Errorf("looking up repo: %w", err)
	}
}

func lastPathSegment(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}

// UpsertInput carries the mutable fields of a workspace row.
type UpsertInput struct {
	WorkspaceID   string
	ProjectID     string
	RepoID        string
	Alias         string
	HumanName     string
	Role          string
	Hostname      string
	WorkspacePath string
	Type          model.WorkspaceType
}

// UpsertWorkspace inserts a new workspace row, or updates human_name, role,
// and last_seen_at on an existing one. hostname and workspace_path are
// settable once: once non-empty they are never overwritten.
func (r *Registry) UpsertWorkspace(ctx context.Context, in UpsertInput) error {
	if err := r.checkAliasFree(ctx, in.ProjectID, in.Alias, in.WorkspaceID); err != nil {
		return err
	}

	now := r.now().UTC()
	wsType := in.Type
	if wsType == "" {
		wsType = model.WorkspaceAgent
	}

	err := r.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE {{tables.workspaces}}
			SET human_name = $1, role = $2, last_seen_at = $3,
			    hostname = COALESCE(NULLIF(hostname, ''), $4),
			    workspace_path = COALESCE(NULLIF(workspace_path, ''), $5)
			WHERE workspace_id = $6`,
			in.HumanName, in.Role, now, in.Hostname, in.WorkspacePath, in.WorkspaceID)
		if err != nil {
			return fmt.Errorf("updating workspace: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return audit.Record(ctx, tx, in.ProjectID, in.WorkspaceID, "workspace.updated", in)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO {{tables.workspaces}}
				(workspace_id, project_id, repo_id, alias, human_name, role,
				 hostname, workspace_path, workspace_type, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			in.WorkspaceID, in.ProjectID, in.RepoID, in.Alias, in.HumanName, in.Role,
			in.Hostname, in.WorkspacePath, string(wsType), now)
		if err != nil {
			if sqlstore.IsUniqueViolation(err) {
				return apierr.Conflictf("alias %q already in use for this project", in.Alias)
			}
			return fmt.Errorf("inserting workspace: %w", err)
		}
		return audit.Record(ctx, tx, in.ProjectID, in.WorkspaceID, "workspace.registered", in)
	})
	return err
}

// checkAliasFree consults, in order, the workspaces table, the bead_claims
// table (which covers the race window before a workspace row is
// persisted), and the presence alias index.
func (r *Registry) checkAliasFree(ctx context.Context, projectID, alias, workspaceID string) error {
	var holder string
	row := r.pool.QueryRowContext(ctx, `
		SELECT workspace_id FROM {{tables.workspaces}}
		WHERE project_id = $1 AND alias = $2 AND deleted_at IS NULL`, projectID, alias)
	switch err := row.Scan(&holder); {
	case err == nil && holder != workspaceID:
		return apierr.Conflictf("alias %q already in use for this project", alias)
	case err != nil && err != sql.ErrNoRows:
		return fmt.Errorf("checking workspace alias: %w", err)
	}

	row = r.pool.QueryRowContext(ctx, `
		SELECT workspace_id FROM {{tables.bead_claims}}
		WHERE project_id = $1 AND alias = $2 LIMIT 1`, projectID, alias)
	switch err := row.Scan(&holder); {
	case err == nil && holder != workspaceID:
		return apierr.Conflictf("alias %q already in use for this project", alias)
	case err != nil && err != sql.ErrNoRows:
		return fmt.Errorf("checking claim alias: %w", err)
	}

	if r.presence != nil {
		id, ok, err := r.presence.GetWorkspaceIDByAlias(ctx, projectID, alias)
		if err != nil {
			return fmt.Errorf("checking presence alias index: %w", err)
		}
		if ok && id != workspaceID {
			return apierr.Conflictf("alias %q already in use for this project", alias)
		}
	}
	return nil
}

// existing looks up a workspace's current identity fields for the
// immutability and pre-check validations below.
func (r *Registry) existing(ctx context.Context, workspaceID string) (model.Workspace, bool, error) {
	var ws model.Workspace
	var repoID sql.NullString
	var deletedAt sql.NullTime
	row := r.pool.QueryRowContext(ctx, `
		SELECT workspace_id, project_id, repo_id, alias, deleted_at
		FROM {{tables.workspaces}} WHERE workspace_id = $1`, workspaceID)
	err := row.Scan(&ws.WorkspaceID, &ws.ProjectID, &repoID, &ws.Alias, &deletedAt)
	if err == sql.ErrNoRows {
		return model.Workspace{}, false, nil
	}
	if err != nil {
		return model.Workspace{}, false, fmt.Errorf("looking up workspace: %w", err)
	}
	if repoID.Valid {
		ws.RepoID = &repoID.String
	}
	if deletedAt.Valid {
		ws.DeletedAt = &deletedAt.Time
	}
	return ws, true, nil
}

// Get returns workspaceID's current row, or apierr.NotFoundf if it has
// never been registered (soft-deleted workspaces are still returned, with
// DeletedAt set, so callers can distinguish 404 from 410).
func (r *Registry) Get(ctx context.Context, workspaceID string) (model.Workspace, error) {
	ws, ok, err := r.existing(ctx, workspaceID)
	if err != nil {
		return model.Workspace{}, err
	}
	if !ok {
		return model.Workspace{}, apierr.NotFoundf("workspace %s not found", workspaceID)
	}
	return ws, nil
}

// Register enforces the identity-immutability invariant: a workspace's
// project_id, repo_id, and alias may never change once set. If the
// workspace already exists with any of those fields different, the call is
// rejected with 409; otherwise deleted_at is cleared and mutable fields
// update as in UpsertWorkspace.
func (r *Registry) Register(ctx context.Context, in UpsertInput) error {
	cur, ok, err := r.existing(ctx, in.WorkspaceID)
	if err != nil {
		return err
	}
	if ok {
		if cur.ProjectID != in.ProjectID || cur.Alias != in.Alias ||
			(cur.RepoID != nil && *cur.RepoID != in.RepoID) {
			return apierr.Conflictf("workspace %s identity is immutable", in.WorkspaceID)
		}
		if _, err := r.pool.ExecContext(ctx, `
			UPDATE {{tables.workspaces}} SET deleted_at = NULL WHERE workspace_id = $1`,
			in.WorkspaceID); err != nil {
			return fmt.Errorf("clearing workspace soft-delete: %w", err)
		}
	}
	return r.UpsertWorkspace(ctx, in)
}

// HeartbeatInput carries a heartbeat's payload.
type HeartbeatInput struct {
	UpsertInput
	CurrentBranch   string
	Program         string
	Model           string
	Timezone        string
	CanonicalOrigin string
	TTL             time.Duration
}

// Heartbeat pre-checks for identity mismatches before performing any write
// (no partial state on rejection), then runs UpsertWorkspace, an optional
// current_branch update, and a presence refresh in that order. A presence
// failure does not fail the heartbeat: SQL is the authoritative store.
func (r *Registry) Heartbeat(ctx context.Context, in HeartbeatInput) error {
	cur, ok, err := r.existing(ctx, in.WorkspaceID)
	if err != nil {
		return err
	}
	if ok {
		if cur.ProjectID != in.ProjectID {
			return apierr.Validationf("workspace %s belongs to a different project", in.WorkspaceID)
		}
		if cur.RepoID != nil && in.RepoID != "" && *cur.RepoID != in.RepoID {
			return apierr.Conflictf("workspace %s is bound to a different repo", in.WorkspaceID)
		}
		if cur.Alias != "" && in.Alias != "" && cur.Alias != in.Alias {
			return apierr.Conflictf("workspace %s has a different alias", in.WorkspaceID)
		}
		if cur.DeletedAt != nil {
			return apierr.Gonef("workspace %s has been removed", in.WorkspaceID)
		}
	}

	if err := r.UpsertWorkspace(ctx, in.UpsertInput); err != nil {
		return err
	}

	if in.CurrentBranch != "" {
		if _, err := r.pool.ExecContext(ctx, `
			UPDATE {{tables.workspaces}} SET current_branch = $1 WHERE workspace_id = $2`,
			in.CurrentBranch, in.WorkspaceID); err != nil {
			return fmt.Errorf("updating current branch: %w", err)
		}
	}

	if r.presence != nil {
		_, _ = r.presence.Upsert(ctx, presenceUpsertFromHeartbeat(in))
	}
	return nil
}

func presenceUpsertFromHeartbeat(in HeartbeatInput) presence.UpsertInput {
	return presence.UpsertInput{
		WorkspaceID:     in.WorkspaceID,
		Alias:           in.Alias,
		ProjectID:       in.ProjectID,
		RepoID:          in.RepoID,
		Branch:          in.CurrentBranch,
		Program:         in.Program,
		Model:           in.Model,
		Role:            in.Role,
		Timezone:        in.Timezone,
		CanonicalOrigin: in.CanonicalOrigin,
		TTL:             in.TTL,
	}
}

// SoftDelete marks a workspace deleted and explicitly removes its bead
// claims. CASCADE only fires on hard delete, so claim removal here is
// deliberate, not redundant.
func (r *Registry) SoftDelete(ctx context.Context, workspaceID string) error {
	cur, ok, err := r.existing(ctx, workspaceID)
	if err != nil {
		return err
	}
	return r.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE {{tables.workspaces}} SET deleted_at = now() WHERE workspace_id = $1`,
			workspaceID); err != nil {
			return fmt.Errorf("soft-deleting workspace: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM {{tables.bead_claims}} WHERE workspace_id = $1`,
			workspaceID); err != nil {
			return fmt.Errorf("clearing claims for deleted workspace: %w", err)
		}
		if ok {
			return audit.Record(ctx, tx, cur.ProjectID, workspaceID, "workspace.soft_deleted", nil)
		}
		return nil
	})
}

// Restore clears deleted_at for workspaceID only if its alias is still
// free among live workspaces.
func (r *Registry) Restore(ctx context.Context, workspaceID string) error {
	cur, ok, err := r.existing(ctx, workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFoundf("workspace %s not found", workspaceID)
	}
	if cur.DeletedAt == nil {
		return nil
	}
	if err := r.checkAliasFree(ctx, cur.ProjectID, cur.Alias, workspaceID); err != nil {
		return err
	}
	if _, err := r.pool.ExecContext(ctx, `
		UPDATE {{tables.workspaces}} SET deleted_at = NULL WHERE workspace_id = $1`,
		workspaceID); err != nil {
		return fmt.Errorf("restoring workspace: %w", err)
	}
	return nil
}

// ListFilter narrows a List call. RepoID and Type are optional; live-only
// excludes soft-deleted workspaces unless IncludeDeleted is set.
type ListFilter struct {
	RepoID         string
	Type           string
	IncludeDeleted bool
}

// List returns live workspaces for projectID ordered by last_seen_at DESC,
// workspace_id DESC (the tie-breaker, since last_seen_at has no uniqueness
// guarantee), cursor-paginated on that pair. Workspaces carries no
// updated_at column, so last_seen_at is the closest analogue to the cursor
// key spec.md §6 names; see DESIGN.md's Open Question decisions.
func (r *Registry) List(ctx context.Context, projectID string, filter ListFilter, cursor pagination.Cursor, limit int) ([]model.Workspace, string, error) {
	query := `
		SELECT workspace_id, project_id, repo_id, alias, human_name, role, hostname,
		       workspace_path, workspace_type, current_branch, last_seen_at,
		       focus_apex_bead_id, focus_apex_repo_name, focus_apex_branch, focus_apex_type,
		       focus_updated_at, deleted_at
		FROM {{tables.workspaces}}
		WHERE project_id = $1`
	args := []any{projectID}

	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.RepoID != "" {
		args = append(args, filter.RepoID)
		query += fmt.Sprintf(" AND repo_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND workspace_type = $%d", len(args))
	}
	if lastSeen, ok := cursor["last_seen_at"]; ok {
		lastID := cursor["workspace_id"]
		args = append(args, lastSeen, lastID)
		query += fmt.Sprintf(" AND (last_seen_at, workspace_id) < ($%d, $%d)", len(args)-1, len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY last_seen_at DESC, workspace_id DESC LIMIT $%d", len(args))

	rows, err := r.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var list []model.Workspace
	for rows.Next() {
		var ws model.Workspace
		var repoID, focusBead, focusRepo, focusBranch, focusType sql.NullString
		var focusUpdated, deletedAt sql.NullTime
		if err := rows.Scan(&ws.WorkspaceID, &ws.ProjectID, &repoID, &ws.Alias, &ws.HumanName,
			&ws.Role, &ws.Hostname, &ws.WorkspacePath, &ws.Type, &ws.CurrentBranch, &ws.LastSeenAt,
			&focusBead, &focusRepo, &focusBranch, &focusType, &focusUpdated, &deletedAt); err != nil {
			return nil, "", fmt.Errorf("scanning workspace row: %w", err)
		}
		if repoID.Valid {
			ws.RepoID = &repoID.String
		}
		if focusBead.Valid {
			ws.FocusApexBeadID = &focusBead.String
		}
		if focusRepo.Valid {
			ws.FocusApexRepoName = &focusRepo.String
		}
		if focusBranch.Valid {
			ws.FocusApexBranch = &focusBranch.String
		}
		if focusType.Valid {
			ws.FocusApexType = &focusType.String
		}
		if focusUpdated.Valid {
			ws.FocusUpdatedAt = &focusUpdated.Time
		}
		if deletedAt.Valid {
			ws.DeletedAt = &deletedAt.Time
		}
		list = append(list, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating workspace rows: %w", err)
	}

	page := pagination.EncodeNext(list, limit, func(ws model.Workspace) pagination.Cursor {
		return pagination.Cursor{
			"last_seen_at": ws.LastSeenAt.Format(time.RFC3339Nano),
			"workspace_id": ws.WorkspaceID,
		}
	})
	return page.Items, page.NextCursor, nil
}
