package httpapi

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

// sqlKeyLookup implements authn.KeyLookup directly against the aweb
// schema, so internal/authn stays free of a sqlstore dependency.
type sqlKeyLookup struct {
	pool *sqlstore.Pool
}

func newSQLKeyLookup(pool *sqlstore.Pool) *sqlKeyLookup {
	return &sqlKeyLookup{pool: pool}
}

// LookupAPIKeyByPrefix returns every active-or-not api_key row sharing
// prefix; the caller (internal/authn) filters on is_active and compares
// the full token against key_hash.
func (l *sqlKeyLookup) LookupAPIKeyByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	rows, err := l.pool.QueryContext(ctx, `
		SELECT key_id, project_id, agent_id, key_prefix, key_hash, is_active
		FROM {{tables.api_keys}} WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("looking up api key prefix: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.KeyID, &k.ProjectID, &k.AgentID, &k.KeyPrefix, &k.KeyHash, &k.IsActive); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AgentLive reports whether agentID exists in projectID and is not
// soft-deleted.
func (l *sqlKeyLookup) AgentLive(ctx context.Context, projectID, agentID string) (bool, error) {
	var deletedAt sql.NullTime
	row := l.pool.QueryRowContext(ctx, `
		SELECT deleted_at FROM {{tables.agents}}
		WHERE project_id = $1 AND agent_id = $2`, projectID, agentID)
	if err := row.Scan(&deletedAt); err != nil {
		return false, nil
	}
	return !deletedAt.Valid, nil
}

// List returns the live agents in projectID, the introspection view behind
// GET /v1/agents.
func (l *sqlKeyLookup) List(ctx context.Context, projectID string) ([]model.Agent, error) {
	rows, err := l.pool.QueryContext(ctx, `
		SELECT agent_id, project_id, alias, human_name
		FROM {{tables.agents}} WHERE project_id = $1 AND deleted_at IS NULL`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(&a.AgentID, &a.ProjectID, &a.Alias, &a.HumanName); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
