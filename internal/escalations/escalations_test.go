package escalations

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/sqlstore"
)

func q(s string) string { return regexp.QuoteMeta(s) }

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	r := New(sqlstore.NewFromDB(db))
	r.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r, mock
}

func TestCreate_RejectsMissingFields(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Create(context.Background(), CreateInput{ProjectID: "proj-1", WorkspaceID: "ws-1"})
	if apierr.As(err).Code != apierr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_InsertsWithDefaultTimeout(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(q("INSERT INTO server.escalations")).
		WithArgs(sqlmock.AnyArg(), "proj-1", "ws-1", "alice", nil, "need help", "stuck on bd-1",
			sqlmock.AnyArg(), r.now().Add(DefaultTimeout)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := r.Create(context.Background(), CreateInput{
		ProjectID: "proj-1", WorkspaceID: "ws-1", Alias: "alice",
		Subject: "need help", Situation: "stuck on bd-1",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRespond_ConflictsWhenAlreadyResolved(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(q("UPDATE server.escalations")).
		WithArgs("yes", nil, "proj-1", "esc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM server.escalations")).
		WithArgs("proj-1", "esc-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_id", "workspace_id", "alias", "member_email", "subject", "situation",
			"options", "status", "response", "response_note", "created_at", "responded_at", "expires_at",
		}).AddRow("esc-1", "proj-1", "ws-1", "alice", nil, "s", "sit", "{}", "responded", "yes", nil,
			time.Now(), time.Now(), nil))

	err := r.Respond(context.Background(), RespondInput{ProjectID: "proj-1", ID: "esc-1", Response: "yes"})
	if apierr.As(err).Code != apierr.CodeConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestRespond_NotFoundWhenEscalationMissing(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(q("UPDATE server.escalations")).
		WithArgs("yes", nil, "proj-1", "esc-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM server.escalations")).
		WithArgs("proj-1", "esc-missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_id", "workspace_id", "alias", "member_email", "subject", "situation",
			"options", "status", "response", "response_note", "created_at", "responded_at", "expires_at",
		}))

	err := r.Respond(context.Background(), RespondInput{ProjectID: "proj-1", ID: "esc-missing", Response: "yes"})
	if apierr.As(err).Code != apierr.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSweepExpired_ReturnsCount(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(q("UPDATE server.escalations")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("SweepExpired() = %d, want 3", n)
	}
}
