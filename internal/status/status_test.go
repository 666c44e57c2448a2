package status

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

func modelClaim(beadID, workspaceID string) model.Claim {
	return model.Claim{BeadID: beadID, WorkspaceID: workspaceID, ProjectID: "proj-1", ClaimedAt: time.Now()}
}

func modelWorkspace(workspaceID string) model.Workspace {
	return model.Workspace{WorkspaceID: workspaceID, ProjectID: "proj-1", LastSeenAt: time.Now()}
}

func q(s string) string { return regexp.QuoteMeta(s) }

func newTestAggregator(t *testing.T) (*Aggregator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	agg := New(sqlstore.NewFromDB(db), nil, "test-db")
	return agg, mock
}

func workspaceCols() []string {
	return []string{"workspace_id", "project_id", "repo_id", "alias", "human_name", "role",
		"hostname", "workspace_path", "workspace_type", "current_branch", "last_seen_at"}
}

func claimCols() []string {
	return []string{"project_id", "bead_id", "workspace_id", "alias", "human_name",
		"apex_bead_id", "apex_repo_name", "apex_branch", "claimed_at", "coalesce", "count"}
}

func TestCompose_NoWorkspacesShortCircuitsClaimsQuery(t *testing.T) {
	agg, mock := newTestAggregator(t)

	mock.ExpectQuery(q("FROM server.workspaces")).
		WithArgs("proj-1", DefaultLimit).
		WillReturnRows(sqlmock.NewRows(workspaceCols()))

	mock.ExpectQuery(q("FROM server.escalations")).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	resp, err := agg.Compose(context.Background(), "proj-1", Scope{})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if len(resp.Agents) != 0 || len(resp.Claims) != 0 {
		t.Fatalf("expected empty response, got %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompose_CachesProjectScopedResult(t *testing.T) {
	agg, mock := newTestAggregator(t)

	now := time.Now()
	mock.ExpectQuery(q("FROM server.workspaces")).
		WithArgs("proj-1", DefaultLimit).
		WillReturnRows(sqlmock.NewRows(workspaceCols()).
			AddRow("ws-1", "proj-1", nil, "alice", "Alice", "dev", "host", "/tmp", "agent", "main", now))
	mock.ExpectQuery(q("FROM server.bead_claims")).
		WillReturnRows(sqlmock.NewRows(claimCols()))
	mock.ExpectQuery(q("FROM server.escalations")).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	first, err := agg.Compose(context.Background(), "proj-1", Scope{})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if len(first.Agents) != 1 || first.EscalationsPending != 2 {
		t.Fatalf("unexpected response: %+v", first)
	}

	// Second call within the TTL must not re-issue any query.
	second, err := agg.Compose(context.Background(), "proj-1", Scope{})
	if err != nil {
		t.Fatalf("Compose() (cached) error = %v", err)
	}
	if second.EscalationsPending != first.EscalationsPending {
		t.Fatalf("cached response mismatch: %+v vs %+v", second, first)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompose_WorkspaceScopeBypassesCache(t *testing.T) {
	agg, mock := newTestAggregator(t)
	now := time.Now()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(q("FROM server.workspaces")).
			WithArgs("proj-1", "ws-1").
			WillReturnRows(sqlmock.NewRows(workspaceCols()).
				AddRow("ws-1", "proj-1", nil, "alice", "Alice", "dev", "host", "/tmp", "agent", "main", now))
		mock.ExpectQuery(q("FROM server.bead_claims")).
			WillReturnRows(sqlmock.NewRows(claimCols()))
		mock.ExpectQuery(q("FROM server.escalations")).
			WithArgs("proj-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	}

	if _, err := agg.Compose(context.Background(), "proj-1", Scope{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if _, err := agg.Compose(context.Background(), "proj-1", Scope{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestConflictsFromClaims_GroupsMultiClaimants(t *testing.T) {
	claims := []ClaimView{
		{Claim: modelClaim("bd-1", "ws-1"), ClaimantCount: 2},
		{Claim: modelClaim("bd-1", "ws-2"), ClaimantCount: 2},
		{Claim: modelClaim("bd-2", "ws-3"), ClaimantCount: 1},
	}
	conflicts := conflictsFromClaims(claims)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].BeadID != "bd-1" || len(conflicts[0].Claimants) != 2 {
		t.Fatalf("unexpected conflict: %+v", conflicts[0])
	}
}

func TestRedact_StripsPII(t *testing.T) {
	resp := Response{
		Agents: []AgentStatus{{Workspace: modelWorkspace("ws-1")}},
		Claims: []ClaimView{{Claim: modelClaim("bd-1", "ws-1")}},
	}
	resp.Claims[0].HumanName = "Alice"
	resp.Agents[0].Workspace.HumanName = "Alice"
	resp.Agents[0].Workspace.Hostname = "box"

	resp.Redact()

	if resp.Agents[0].Workspace.HumanName != "" || resp.Agents[0].Workspace.Hostname != "" {
		t.Fatalf("expected redaction, got %+v", resp.Agents[0].Workspace)
	}
	if resp.Claims[0].HumanName != "" {
		t.Fatalf("expected claim human_name redacted, got %q", resp.Claims[0].HumanName)
	}
	if !resp.PublicReader {
		t.Fatal("expected PublicReader = true")
	}
}
