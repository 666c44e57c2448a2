// Package status implements the StatusAggregator from spec.md §4.9: the
// composed GET /v1/status response (workspaces + presence + claims +
// claimants + conflicts + pending escalations), fronted by a short-lived
// in-process cache to absorb SSE-driven polling.
package status

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/presence"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

// DefaultLimit and MaxLimit bound the number of workspaces one Compose call
// returns, per spec.md §4.9.
const (
	DefaultLimit = 200
	MaxLimit     = 1000
	cacheTTL     = 10 * time.Second
)

// Scope selects which workspaces a status request covers: exactly one
// workspace, every workspace in a repo, or every workspace in the project.
type Scope struct {
	WorkspaceID string
	RepoID      string
	Limit       int
}

func (sc Scope) normalizedLimit() int {
	if sc.Limit <= 0 {
		return DefaultLimit
	}
	if sc.Limit > MaxLimit {
		return MaxLimit
	}
	return sc.Limit
}

// AgentStatus is one workspace's composed presence + current-issue view.
type AgentStatus struct {
	Workspace    model.Workspace
	Presence     *presence.Snapshot
	CurrentIssue string // bead_id of the workspace's most recent claim, if any
}

// ClaimView is one claim enriched with the bead's title and how many
// workspaces in total claim the same bead (for conflict detection).
type ClaimView struct {
	model.Claim
	BeadTitle      string
	ClaimantCount  int
}

// Conflict lists every claimant on a bead claimed by more than one
// workspace.
type Conflict struct {
	BeadID    string
	Claimants []model.Claim
}

// Response is the composed /v1/status payload.
type Response struct {
	Agents              []AgentStatus
	Claims              []ClaimView
	Conflicts           []Conflict
	EscalationsPending  int
	PublicReader        bool
}

// Redact strips PII fields from a Response for a public reader (spec.md
// §4.9: no human_name, member_email, role, hostname, workspace_path).
func (r *Response) Redact() {
	r.PublicReader = true
	r.EscalationsPending = 0
	for i := range r.Agents {
		r.Agents[i].Workspace.HumanName = ""
		r.Agents[i].Workspace.Role = ""
		r.Agents[i].Workspace.Hostname = ""
		r.Agents[i].Workspace.WorkspacePath = ""
	}
	for i := range r.Claims {
		r.Claims[i].HumanName = ""
	}
	for i := range r.Conflicts {
		for j := range r.Conflicts[i].Claimants {
			r.Conflicts[i].Claimants[j].HumanName = ""
		}
	}
}

type cacheKey struct {
	dbInstanceID string
	projectID    string
	limit        int
}

type cacheEntry struct {
	response  Response
	expiresAt time.Time
}

// Aggregator implements the StatusAggregator.
type Aggregator struct {
	pool         *sqlstore.Pool
	presence     *presence.Store
	dbInstanceID string
	now          func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// New builds an Aggregator. dbInstanceID distinguishes cache entries across
// separate backing databases in library mode (spec.md §9's two startup
// orderings), e.g. when one process embeds BeadHub against more than one
// pool in tests.
func New(pool *sqlstore.Pool, presenceStore *presence.Store, dbInstanceID string) *Aggregator {
	return &Aggregator{
		pool:         pool,
		presence:     presenceStore,
		dbInstanceID: dbInstanceID,
		now:          time.Now,
		cache:        make(map[cacheKey]cacheEntry),
	}
}

// Compose builds the full status response for projectID within scope. The
// result is cached for cacheTTL keyed on (dbInstanceID, projectID, limit);
// stale reads up to that window are acceptable per spec.md §5.
func (a *Aggregator) Compose(ctx context.Context, projectID string, scope Scope) (Response, error) {
	limit := scope.normalizedLimit()
	key := cacheKey{dbInstanceID: a.dbInstanceID, projectID: projectID, limit: limit}

	if scope.WorkspaceID == "" && scope.RepoID == "" {
		a.mu.Lock()
		entry, ok := a.cache[key]
		a.mu.Unlock()
		if ok && a.now().Before(entry.expiresAt) {
			return entry.response, nil
		}
	}

	resp, err := a.compose(ctx, projectID, scope, limit)
	if err != nil {
		return Response{}, err
	}

	if scope.WorkspaceID == "" && scope.RepoID == "" {
		a.mu.Lock()
		a.cache[key] = cacheEntry{response: resp, expiresAt: a.now().Add(cacheTTL)}
		a.mu.Unlock()
	}
	return resp, nil
}

func (a *Aggregator) compose(ctx context.Context, projectID string, scope Scope, limit int) (Response, error) {
	workspaces, err := a.listWorkspaces(ctx, projectID, scope, limit)
	if err != nil {
		return Response{}, err
	}

	ids := make([]string, len(workspaces))
	for i, w := range workspaces {
		ids[i] = w.WorkspaceID
	}

	var presenceByID map[string]presence.Snapshot
	if a.presence != nil && len(ids) > 0 {
		snaps, err := a.presence.ListByWorkspaceIDs(ctx, ids)
		if err != nil {
			return Response{}, fmt.Errorf("listing presence: %w", err)
		}
		presenceByID = make(map[string]presence.Snapshot, len(snaps))
		for _, s := range snaps {
			presenceByID[s.WorkspaceID] = s
		}
	}

	claims, err := a.listClaims(ctx, projectID, ids)
	if err != nil {
		return Response{}, err
	}

	currentIssue := make(map[string]string, len(claims))
	for _, c := range claims {
		// Claims are returned ordered by claimed_at DESC (see listClaims),
		// so the first one seen per workspace is the most recent.
		if _, ok := currentIssue[c.WorkspaceID]; !ok {
			currentIssue[c.WorkspaceID] = c.BeadID
		}
	}

	agents := make([]AgentStatus, len(workspaces))
	for i, w := range workspaces {
		var p *presence.Snapshot
		if snap, ok := presenceByID[w.WorkspaceID]; ok {
			snap := snap
			p = &snap
		}
		agents[i] = AgentStatus{Workspace: w, Presence: p, CurrentIssue: currentIssue[w.WorkspaceID]}
	}

	conflicts := conflictsFromClaims(claims)

	pending, err := a.pendingEscalations(ctx, projectID)
	if err != nil {
		return Response{}, err
	}

	return Response{
		Agents:             agents,
		Claims:             claims,
		Conflicts:          conflicts,
		EscalationsPending: pending,
	}, nil
}

func (a *Aggregator) listWorkspaces(ctx context.Context, projectID string, scope Scope, limit int) ([]model.Workspace, error) {
	var rows *sql.Rows
	var err error
	switch {
	case scope.WorkspaceID != "":
		rows, err = a.pool.QueryContext(ctx, `
			SELECT workspace_id, project_id, repo_id, alias, human_name, role, hostname,
			       workspace_path, workspace_type, current_branch, last_seen_at
			FROM {{tables.workspaces}}
			WHERE project_id = $1 AND workspace_id = $2 AND deleted_at IS NULL`,
			projectID, scope.WorkspaceID)
	case scope.RepoID != "":
		rows, err = a.pool.QueryContext(ctx, `
			SELECT workspace_id, project_id, repo_id, alias, human_name, role, hostname,
			       workspace_path, workspace_type, current_branch, last_seen_at
			FROM {{tables.workspaces}}
			WHERE project_id = $1 AND repo_id = $2 AND deleted_at IS NULL
			ORDER BY last_seen_at DESC LIMIT $3`,
			projectID, scope.RepoID, limit)
	default:
		rows, err = a.pool.QueryContext(ctx, `
			SELECT workspace_id, project_id, repo_id, alias, human_name, role, hostname,
			       workspace_path, workspace_type, current_branch, last_seen_at
			FROM {{tables.workspaces}}
			WHERE project_id = $1 AND deleted_at IS NULL
			ORDER BY last_seen_at DESC LIMIT $2`,
			projectID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		var w model.Workspace
		var repoID sql.NullString
		if err := rows.Scan(&w.WorkspaceID, &w.ProjectID, &repoID, &w.Alias, &w.HumanName,
			&w.Role, &w.Hostname, &w.WorkspacePath, &w.Type, &w.CurrentBranch, &w.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		if repoID.Valid {
			w.RepoID = &repoID.String
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// listClaims fetches every live claim for the given workspace ids, enriched
// with the bead's title (spec.md §4.9: joined via DISTINCT ON by
// synced_at DESC) and a per-bead claimant_count window function.
func (a *Aggregator) listClaims(ctx context.Context, projectID string, workspaceIDs []string) ([]ClaimView, error) {
	if len(workspaceIDs) == 0 {
		return nil, nil
	}
	rows, err := a.pool.QueryContext(ctx, `
		SELECT c.project_id, c.bead_id, c.workspace_id, c.alias, c.human_name,
		       c.apex_bead_id, c.apex_repo_name, c.apex_branch, c.claimed_at,
		       COALESCE(b.title, ''),
		       count(*) OVER (PARTITION BY c.project_id, c.bead_id)
		FROM {{tables.bead_claims}} c
		LEFT JOIN LATERAL (
			SELECT title FROM {{tables.beads_issues}} bi
			WHERE bi.project_id = c.project_id AND bi.bead_id = c.bead_id
			ORDER BY bi.synced_at DESC LIMIT 1
		) b ON true
		WHERE c.project_id = $1 AND c.workspace_id = ANY($2)
		ORDER BY c.claimed_at DESC`,
		projectID, pq.Array(workspaceIDs))
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	var out []ClaimView
	for rows.Next() {
		var cv ClaimView
		if err := rows.Scan(&cv.ProjectID, &cv.BeadID, &cv.WorkspaceID, &cv.Alias, &cv.HumanName,
			&cv.ApexBeadID, &cv.ApexRepo, &cv.ApexBranch, &cv.ClaimedAt,
			&cv.BeadTitle, &cv.ClaimantCount); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func conflictsFromClaims(claims []ClaimView) []Conflict {
	byBead := make(map[string][]model.Claim)
	order := make([]string, 0)
	for _, c := range claims {
		if c.ClaimantCount <= 1 {
			continue
		}
		if _, ok := byBead[c.BeadID]; !ok {
			order = append(order, c.BeadID)
		}
		byBead[c.BeadID] = append(byBead[c.BeadID], c.Claim)
	}
	out := make([]Conflict, 0, len(order))
	for _, id := range order {
		out = append(out, Conflict{BeadID: id, Claimants: byBead[id]})
	}
	return out
}

func (a *Aggregator) pendingEscalations(ctx context.Context, projectID string) (int, error) {
	var n int
	row := a.pool.QueryRowContext(ctx, `
		SELECT count(*) FROM {{tables.escalations}}
		WHERE project_id = $1 AND status = 'pending'`, projectID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending escalations: %w", err)
	}
	return n, nil
}

