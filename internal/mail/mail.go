// Package mail implements the MailSender contract that internal/outbox
// depends on (spec.md §4.6, §1 — the mail subsystem itself is an external
// collaborator, out of scope; BeadHub only owns delivery into its inbox
// table). Sender writes one row into aweb.messages per delivery; the
// mail/chat subsystem named in spec.md §1 is responsible for everything
// downstream of that row (actual push, read receipts, retention).
package mail

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/beadhub/beadhub/internal/sqlstore"
)

// Sender delivers notification-outbox messages into aweb.messages. It
// satisfies outbox.MailSender without importing that package, the same
// interface-at-the-consumer pattern the teacher uses throughout
// internal/rpcserver to avoid import cycles between storage and caller.
type Sender struct {
	pool *sqlstore.Pool
}

// New builds a Sender over pool.
func New(pool *sqlstore.Pool) *Sender {
	return &Sender{pool: pool}
}

// Send inserts one aweb.messages row addressed to recipientWorkspaceID.
// senderAgentID may be empty for system-originated notifications.
func (s *Sender) Send(ctx context.Context, senderAgentID, senderAlias, recipientWorkspaceID, subject, body string) error {
	var senderArg any
	if senderAgentID != "" {
		senderArg = senderAgentID
	}

	_, err := s.pool.ExecContext(ctx, `
		INSERT INTO {{tables.messages}}
			(id, project_id, workspace_id, sender_agent_id, sender_alias, subject, body)
		SELECT $1, project_id, $2, $3, $4, $5, $6
		FROM {{tables.workspaces}} WHERE workspace_id = $2`,
		uuid.NewString(), recipientWorkspaceID, senderArg, senderAlias, subject, body)
	if err != nil {
		return fmt.Errorf("delivering mail to workspace %s: %w", recipientWorkspaceID, err)
	}
	return nil
}
