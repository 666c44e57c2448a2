package httpapi

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/beadhub/beadhub/internal/sqlstore"
)

func newTestKeyLookup(t *testing.T) (*sqlKeyLookup, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return newSQLKeyLookup(sqlstore.NewFromDB(db)), mock
}

func qk(s string) string { return regexp.QuoteMeta(s) }

func TestSQLKeyLookup_LookupAPIKeyByPrefix(t *testing.T) {
	l, mock := newTestKeyLookup(t)

	rows := sqlmock.NewRows([]string{"key_id", "project_id", "agent_id", "key_prefix", "key_hash", "is_active"}).
		AddRow("key1", "proj1", "agent1", "aw_sk_abc", "hash", true)
	mock.ExpectQuery(qk("SELECT key_id, project_id, agent_id, key_prefix, key_hash, is_active")).
		WithArgs("aw_sk_abc").
		WillReturnRows(rows)

	keys, err := l.LookupAPIKeyByPrefix(context.Background(), "aw_sk_abc")
	if err != nil {
		t.Fatalf("LookupAPIKeyByPrefix() error = %v", err)
	}
	if len(keys) != 1 || keys[0].KeyID != "key1" || !keys[0].IsActive {
		t.Errorf("keys = %+v", keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLKeyLookup_AgentLive(t *testing.T) {
	l, mock := newTestKeyLookup(t)

	rows := sqlmock.NewRows([]string{"deleted_at"}).AddRow(nil)
	mock.ExpectQuery(qk("SELECT deleted_at FROM aweb.agents")).
		WithArgs("proj1", "agent1").
		WillReturnRows(rows)

	live, err := l.AgentLive(context.Background(), "proj1", "agent1")
	if err != nil {
		t.Fatalf("AgentLive() error = %v", err)
	}
	if !live {
		t.Error("expected agent to be live")
	}
}

func TestSQLKeyLookup_AgentLive_MissingReturnsFalseNoError(t *testing.T) {
	l, mock := newTestKeyLookup(t)

	mock.ExpectQuery(qk("SELECT deleted_at FROM aweb.agents")).
		WithArgs("proj1", "ghost").
		WillReturnError(context.DeadlineExceeded)

	live, err := l.AgentLive(context.Background(), "proj1", "ghost")
	if err != nil {
		t.Fatalf("AgentLive() error = %v, want nil", err)
	}
	if live {
		t.Error("expected live=false when row lookup fails")
	}
}

func TestSQLKeyLookup_List(t *testing.T) {
	l, mock := newTestKeyLookup(t)

	rows := sqlmock.NewRows([]string{"agent_id", "project_id", "alias", "human_name"}).
		AddRow("agent1", "proj1", "alice", "Alice").
		AddRow("agent2", "proj1", "bob", "")
	mock.ExpectQuery(qk("SELECT agent_id, project_id, alias, human_name")).
		WithArgs("proj1").
		WillReturnRows(rows)

	agents, err := l.List(context.Background(), "proj1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(agents) != 2 || agents[0].Alias != "alice" || agents[1].HumanName != "" {
		t.Errorf("agents = %+v", agents)
	}
}
