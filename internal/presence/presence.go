// Package presence implements the Redis-backed PresenceStore from spec.md
// §4.2: a primary hash per workspace plus six secondary indices used for
// fast fleet-wide and project-scoped lookups.
package presence

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the presence hash for one workspace.
type Snapshot struct {
	WorkspaceID     string
	Alias           string
	Project         string
	Repo            string
	Branch          string
	Program         string
	Model           string
	Role            string
	Timezone        string
	CanonicalOrigin string
	LastSeen        string // ISO-8601, set by Upsert
}

func (s Snapshot) toMap() map[string]string {
	return map[string]string{
		"workspace_id":     s.WorkspaceID,
		"alias":            s.Alias,
		"project":          s.Project,
		"repo":             s.Repo,
		"branch":           s.Branch,
		"program":          s.Program,
		"model":            s.Model,
		"role":             s.Role,
		"timezone":         s.Timezone,
		"canonical_origin": s.CanonicalOrigin,
		"last_seen":        s.LastSeen,
	}
}

func fromMap(m map[string]string) Snapshot {
	return Snapshot{
		WorkspaceID:     m["workspace_id"],
		Alias:           m["alias"],
		Project:         m["project"],
		Repo:            m["repo"],
		Branch:          m["branch"],
		Program:         m["program"],
		Model:           m["model"],
		Role:            m["role"],
		Timezone:        m["timezone"],
		CanonicalOrigin: m["canonical_origin"],
		LastSeen:        m["last_seen"],
	}
}

// preservedFields are left untouched by Upsert when the incoming value is
// empty, per spec.md §4.2.
var preservedFields = []string{"role", "canonical_origin", "timezone"}

// Store implements PresenceStore against a Redis client.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// New builds a Store over an already-configured *redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

func primaryKey(workspaceID string) string { return "presence:" + workspaceID }

const idxAllWorkspaces = "idx:all_workspaces"

func idxProjectWorkspaces(projectID string) string {
	return "idx:project_workspaces:" + url.QueryEscape(projectID)
}

func idxProjectSlugWorkspaces(slug string) string {
	return "idx:project_slug_workspaces:" + url.QueryEscape(slug)
}

func idxRepoWorkspaces(repoID string) string {
	return "idx:repo_workspaces:" + url.QueryEscape(repoID)
}

func idxBranchWorkspaces(repoID, branch string) string {
	return "idx:branch_workspaces:" + url.QueryEscape(repoID) + ":" + url.QueryEscape(branch)
}

func idxAlias(projectID, alias string) string {
	return "idx:alias:" + url.QueryEscape(projectID) + ":" + url.QueryEscape(alias)
}

// UpsertInput carries the fields spec.md §4.2 allows Upsert to set, plus the
// ids needed to fan the write out to secondary indices.
type UpsertInput struct {
	WorkspaceID     string
	Alias           string
	ProjectID       string
	ProjectSlug     string
	RepoID          string
	Branch          string
	Program         string
	Model           string
	Role            string
	Timezone        string
	CanonicalOrigin string
	TTL             time.Duration
}

// Upsert writes the primary hash and refreshes every applicable secondary
// index, returning the ISO-8601 timestamp recorded as last_seen.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (string, error) {
	lastSeen := s.now().UTC().Format(time.RFC3339)
	key := primaryKey(in.WorkspaceID)

	existing := map[string]string{}
	if cur, err := s.rdb.HGetAll(ctx, key).Result(); err == nil {
		existing = cur
	}

	snap := Snapshot{
		WorkspaceID:     in.WorkspaceID,
		Alias:           in.Alias,
		Project:         in.ProjectID,
		Repo:            in.RepoID,
		Branch:          in.Branch,
		Program:         in.Program,
		Model:           in.Model,
		Role:            in.Role,
		Timezone:        in.Timezone,
		CanonicalOrigin: in.CanonicalOrigin,
		LastSeen:        lastSeen,
	}
	preservePreservedFields(&snap, existing)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, snap.toMap())
	pipe.Expire(ctx, key, in.TTL)

	idxTTL := 2 * in.TTL
	pipe.SAdd(ctx, idxAllWorkspaces, in.WorkspaceID)
	pipe.Expire(ctx, idxAllWorkspaces, idxTTL)
	if in.ProjectID != "" {
		k := idxProjectWorkspaces(in.ProjectID)
		pipe.SAdd(ctx, k, in.WorkspaceID)
		pipe.Expire(ctx, k, idxTTL)
	}
	if in.ProjectSlug != "" {
		k := idxProjectSlugWorkspaces(in.ProjectSlug)
		pipe.SAdd(ctx, k, in.WorkspaceID)
		pipe.Expire(ctx, k, idxTTL)
	}
	if in.RepoID != "" {
		k := idxRepoWorkspaces(in.RepoID)
		pipe.SAdd(ctx, k, in.WorkspaceID)
		pipe.Expire(ctx, k, idxTTL)
		if in.Branch != "" {
			bk := idxBranchWorkspaces(in.RepoID, in.Branch)
			pipe.SAdd(ctx, bk, in.WorkspaceID)
			pipe.Expire(ctx, bk, idxTTL)
		}
	}
	if in.ProjectID != "" && in.Alias != "" {
		ak := idxAlias(in.ProjectID, in.Alias)
		pipe.Set(ctx, ak, in.WorkspaceID, idxTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("upserting presence for %s: %w", in.WorkspaceID, err)
	}
	return lastSeen, nil
}

func preservePreservedFields(snap *Snapshot, existing map[string]string) {
	if snap.Role == "" {
		snap.Role = existing["role"]
	}
	if snap.CanonicalOrigin == "" {
		snap.CanonicalOrigin = existing["canonical_origin"]
	}
	if snap.Timezone == "" {
		snap.Timezone = existing["timezone"]
	}
}

// Get returns the presence snapshot for workspaceID, or ok=false if absent
// or expired.
func (s *Store) Get(ctx context.Context, workspaceID string) (Snapshot, bool, error) {
	m, err := s.rdb.HGetAll(ctx, primaryKey(workspaceID)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("getting presence for %s: %w", workspaceID, err)
	}
	if len(m) == 0 {
		return Snapshot{}, false, nil
	}
	return fromMap(m), true, nil
}

// ListByWorkspaceIDs batches HGETALL for the given workspace ids via a
// pipeline, skipping ids with no presence.
func (s *Store) ListByWorkspaceIDs(ctx context.Context, workspaceIDs []string) ([]Snapshot, error) {
	if len(workspaceIDs) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(workspaceIDs))
	for i, id := range workspaceIDs {
		cmds[i] = pipe.HGetAll(ctx, primaryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("batch getting presence: %w", err)
	}
	var out []Snapshot
	for _, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		out = append(out, fromMap(m))
	}
	return out, nil
}

// ListByIndex returns live presence entries referenced by the given index
// set, lazily removing entries whose presence hash has expired.
func (s *Store) ListByIndex(ctx context.Context, indexKey string) ([]Snapshot, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", indexKey, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		existsCmds[i] = pipe.Exists(ctx, primaryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("checking presence liveness: %w", err)
	}

	var stale []string
	var live []string
	for i, id := range ids {
		if n, _ := existsCmds[i].Result(); n == 0 {
			stale = append(stale, id)
		} else {
			live = append(live, id)
		}
	}
	if len(stale) > 0 {
		s.rdb.SRem(ctx, indexKey, toAny(stale)...)
	}
	return s.ListByWorkspaceIDs(ctx, live)
}

// IndexAllWorkspaces, IndexProjectWorkspaces, IndexProjectSlugWorkspaces,
// IndexRepoWorkspaces, and IndexBranchWorkspaces build the index keys for
// ListByIndex.
func IndexAllWorkspaces() string                       { return idxAllWorkspaces }
func IndexProjectWorkspaces(projectID string) string    { return idxProjectWorkspaces(projectID) }
func IndexProjectSlugWorkspaces(slug string) string     { return idxProjectSlugWorkspaces(slug) }
func IndexRepoWorkspaces(repoID string) string          { return idxRepoWorkspaces(repoID) }
func IndexBranchWorkspaces(repoID, branch string) string { return idxBranchWorkspaces(repoID, branch) }

// GetWorkspaceIDByAlias resolves a (project, alias) pair to a workspace id
// in O(1) via the alias index, cleaning up a stale pointer if found.
func (s *Store) GetWorkspaceIDByAlias(ctx context.Context, projectID, alias string) (string, bool, error) {
	key := idxAlias(projectID, alias)
	id, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving alias %s/%s: %w", projectID, alias, err)
	}
	exists, err := s.rdb.Exists(ctx, primaryKey(id)).Result()
	if err != nil {
		return "", false, fmt.Errorf("checking alias target liveness: %w", err)
	}
	if exists == 0 {
		s.rdb.Del(ctx, key)
		return "", false, nil
	}
	return id, true, nil
}

// ClearPresence deletes the primary hash for each workspace id and removes
// it from idx:all_workspaces. Secondary indices self-expire; the alias
// index is cleaned up lazily by GetWorkspaceIDByAlias.
func (s *Store) ClearPresence(ctx context.Context, workspaceIDs []string) error {
	if len(workspaceIDs) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, id := range workspaceIDs {
		pipe.Del(ctx, primaryKey(id))
	}
	pipe.SRem(ctx, idxAllWorkspaces, toAny(workspaceIDs)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clearing presence: %w", err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
