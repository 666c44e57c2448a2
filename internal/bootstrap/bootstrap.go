// Package bootstrap implements Init/Bootstrap (spec.md §4, "Bootstrap
// identity + repo + workspace in one idempotent transaction; suggest
// alias prefix"). It is the backing implementation of POST /v1/init: given
// a project slug and optional repo origin, it creates (or reuses) the
// project, agent identity, API key, repo, and workspace rows a brand-new
// caller needs to start operating.
package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/canon"
	"github.com/beadhub/beadhub/internal/sqlstore"
	"github.com/beadhub/beadhub/internal/workspace"
)

const bearerTokenPrefix = "aw_sk_"

// Bootstrapper implements Init/Bootstrap.
type Bootstrapper struct {
	pool      *sqlstore.Pool
	workspace *workspace.Registry
}

// New builds a Bootstrapper over pool and ws.
func New(pool *sqlstore.Pool, ws *workspace.Registry) *Bootstrapper {
	return &Bootstrapper{pool: pool, workspace: ws}
}

// Input carries the fields a caller supplies to bootstrap a new identity.
type Input struct {
	ProjectSlug string
	HumanName   string
	Role        string
	Hostname    string
	RepoOrigin  string // optional; no workspace/repo created if empty
	AliasHint   string // optional; used as the alias when it is a valid one
}

// Result is what POST /v1/init returns to the caller.
type Result struct {
	APIKey      string
	AgentID     string
	ProjectID   string
	WorkspaceID string
	Alias       string
}

// Bootstrap resolves in.ProjectSlug to a project (creating it if this is
// the first bootstrap for that slug), mints a new agent identity and API
// key, and — if RepoOrigin is set — ensures the repo and registers a
// workspace for it. The whole operation runs in one transaction so a
// caller retrying after a network error never ends up with a half-created
// identity.
func (b *Bootstrapper) Bootstrap(ctx context.Context, in Input) (Result, error) {
	if in.ProjectSlug == "" {
		return Result{}, apierr.Validationf("project_slug is required")
	}

	rawKey, keyHash, err := generateAPIKey()
	if err != nil {
		return Result{}, fmt.Errorf("generating api key: %w", err)
	}

	var res Result
	err = b.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		projectID, err := ensureProject(ctx, tx, in.ProjectSlug)
		if err != nil {
			return err
		}

		agentID := uuid.NewString()
		alias := suggestAlias(in.AliasHint, agentID)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO {{tables.agents}} (agent_id, project_id, alias, human_name, lifetime, custody)
			VALUES ($1, $2, $3, $4, 'persistent', 'self')`,
			agentID, projectID, alias, in.HumanName); err != nil {
			return fmt.Errorf("inserting agent: %w", err)
		}

		keyID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO {{tables.api_keys}} (key_id, project_id, agent_id, key_prefix, key_hash)
			VALUES ($1, $2, $3, $4, $5)`,
			keyID, projectID, agentID, rawKey[:len(bearerTokenPrefix)+12], keyHash); err != nil {
			return fmt.Errorf("inserting api key: %w", err)
		}

		res = Result{APIKey: rawKey, AgentID: agentID, ProjectID: projectID, Alias: alias}

		if in.RepoOrigin == "" {
			return nil
		}
		repoID, err := b.workspace.EnsureRepo(ctx, projectID, in.RepoOrigin)
		if err != nil {
			return err
		}
		if err := b.workspace.UpsertWorkspace(ctx, workspace.UpsertInput{
			WorkspaceID: agentID,
			ProjectID:   projectID,
			RepoID:      repoID,
			Alias:       alias,
			HumanName:   in.HumanName,
			Role:        in.Role,
			Hostname:    in.Hostname,
		}); err != nil {
			return err
		}
		res.WorkspaceID = agentID
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// ensureProject looks up projectSlug, creating the project row (and
// clearing any prior soft-delete) on first bootstrap, per spec.md §5:
// "Project / Repo: created on first bootstrap; soft-deleted reverses on
// next bootstrap for the same (project_id, canonical_origin)".
func ensureProject(ctx context.Context, tx *sqlstore.Tx, slug string) (string, error) {
	var projectID string
	row := tx.QueryRowContext(ctx, `SELECT project_id FROM {{tables.projects}} WHERE slug = $1`, slug)
	switch err := row.Scan(&projectID); {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE {{tables.projects}} SET deleted_at = NULL WHERE project_id = $1`, projectID); err != nil {
			return "", fmt.Errorf("clearing project soft-delete: %w", err)
		}
		return projectID, nil
	case err == sql.ErrNoRows:
		projectID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO {{tables.projects}} (project_id, slug) VALUES ($1, $2)`,
			projectID, slug); err != nil {
			return "", fmt.Errorf("inserting project: %w", err)
		}
		return projectID, nil
	default:
		return "", fmt.Errorf("looking up project: %w", err)
	}
}

// suggestAlias uses hint as the workspace alias when it is already a legal
// one (spec.md §4's alias rules, enforced by canon.ValidAlias), otherwise
// falls back to a short agent-id-derived suffix.
func suggestAlias(hint, agentID string) string {
	if hint != "" && canon.ValidAlias(strings.ToLower(hint)) {
		return strings.ToLower(hint)
	}
	id := strings.ReplaceAll(agentID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "agent-" + id
}

// generateAPIKey mints a new opaque bearer token and its bcrypt hash for
// storage, following the teacher's `aw_sk_`-prefixed token convention used
// throughout internal/authn.
func generateAPIKey() (raw, hash string, err error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = bearerTokenPrefix + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return raw, string(hashed), nil
}
