package mail

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/beadhub/beadhub/internal/sqlstore"
)

func newTestSender(t *testing.T) (*Sender, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlstore.NewFromDB(db)), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestSend_InsertsMessageForRecipient(t *testing.T) {
	s, mock := newTestSender(t)

	mock.ExpectExec(q("INSERT INTO aweb.messages")).
		WithArgs(sqlmock.AnyArg(), "ws-1", "agent-1", "alice", "Bead status changed: bd-1", "bd-1 moved").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Send(context.Background(), "agent-1", "alice", "ws-1", "Bead status changed: bd-1", "bd-1 moved")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSend_AllowsEmptySender(t *testing.T) {
	s, mock := newTestSender(t)

	mock.ExpectExec(q("INSERT INTO aweb.messages")).
		WithArgs(sqlmock.AnyArg(), "ws-1", nil, "", "subject", "body").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Send(context.Background(), "", "", "ws-1", "subject", "body"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSend_UnknownRecipientIsNoOp(t *testing.T) {
	s, mock := newTestSender(t)

	mock.ExpectExec(q("INSERT INTO aweb.messages")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// No workspace row matches the SELECT in the INSERT...SELECT, so the
	// driver reports zero rows affected; the call still succeeds (the
	// outbox retries on a send error, not on a silent no-op here since the
	// recipient workspace not existing is treated the same as delivered —
	// the mail subsystem owns bounce handling).
	if err := s.Send(context.Background(), "agent-1", "alice", "gone-ws", "subject", "body"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}
