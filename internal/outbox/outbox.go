// Package outbox implements the NotificationOutbox from spec.md §4.6: a
// transactional outbox recording one intent per (subscriber × status
// change), drained by an in-process worker that claims rows via SELECT …
// FOR UPDATE SKIP LOCKED and hands each to the external mail collaborator.
package outbox

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/sqlstore"
	"github.com/beadhub/beadhub/internal/telemetry"
)

// MailSender is the external mail collaborator's contract (spec.md §1
// names the mail subsystem itself as out of scope; only this interface is
// specified).
type MailSender interface {
	Send(ctx context.Context, senderAgentID, senderAlias, recipientWorkspaceID, subject, body string) error
}

// SubscriptionResolver resolves which workspaces are subscribed to a given
// bead's status-change notifications.
type SubscriptionResolver interface {
	// ResolveSubscribers returns the workspace ids subscribed to beadID in
	// repo via event type "status_change" or "all".
	ResolveSubscribers(ctx context.Context, tx *sqlstore.Tx, projectID, repo, beadID string) ([]string, error)
}

// Outbox implements the NotificationOutbox.
type Outbox struct {
	pool        *sqlstore.Pool
	subscribers SubscriptionResolver
	mail        MailSender
	maxAttempts int
}

// New builds an Outbox. maxAttempts is the configured retry ceiling
// (spec.md §9 default 5) after which an intent is skipped rather than
// retried forever.
func New(pool *sqlstore.Pool, subscribers SubscriptionResolver, mail MailSender, maxAttempts int) *Outbox {
	return &Outbox{pool: pool, subscribers: subscribers, mail: mail, maxAttempts: maxAttempts}
}

// RecordIntents inserts one notification intent per subscriber for each
// status change, within the caller's transaction (the issue sync engine's
// batch transaction, per spec.md §4.5's transactional guarantee).
func (o *Outbox) RecordIntents(ctx context.Context, tx *sqlstore.Tx, projectID string, changes []model.StatusChange) error {
	for _, change := range changes {
		subscribers, err := o.subscribers.ResolveSubscribers(ctx, tx, projectID, change.Repo, change.BeadID)
		if err != nil {
			return fmt.Errorf("resolving subscribers for bead %s: %w", change.BeadID, err)
		}
		for _, workspaceID := range subscribers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO {{tables.notifications}}
					(project_id, recipient_workspace_id, bead_id, old_status, new_status, title)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				projectID, workspaceID, change.BeadID, change.OldStatus, change.NewStatus, change.Title)
			if err != nil {
				return fmt.Errorf("recording intent for workspace %s: %w", workspaceID, err)
			}
		}
	}
	return nil
}

// intentRow mirrors one notification_outbox row claimed for processing.
type intentRow struct {
	id                   int64
	recipientWorkspaceID string
	beadID               string
	oldStatus            string
	newStatus            string
	title                string
	attempts             int
}

// ProcessOutbox claims unprocessed intents for projectID via SELECT … FOR
// UPDATE SKIP LOCKED (so concurrent workers never contend on the same
// row), sends each as a mail message, and marks processed_at on success.
// Failures increment attempts and record last_error, leaving the row for
// later retry until maxAttempts is reached, at which point it is skipped
// (processed_at remains NULL, but it is no longer selected going forward
// since its attempts count excludes it — see query predicate below).
func (o *Outbox) ProcessOutbox(ctx context.Context, projectID, senderAgentID, senderAlias string) (sent, failed int, err error) {
	err = o.pool.WithTx(ctx, func(tx *sqlstore.Tx) error {
		rows, qerr := tx.QueryContext(ctx, `
			SELECT id, recipient_workspace_id, bead_id, old_status, new_status, title, attempts
			FROM {{tables.notifications}}
			WHERE project_id = $1 AND processed_at IS NULL AND attempts < $2
			ORDER BY id
			FOR UPDATE SKIP LOCKED`,
			projectID, o.maxAttempts)
		if qerr != nil {
			return fmt.Errorf("claiming outbox intents: %w", qerr)
		}
		var intents []intentRow
		for rows.Next() {
			var r intentRow
			if err := rows.Scan(&r.id, &r.recipientWorkspaceID, &r.beadID, &r.oldStatus, &r.newStatus, &r.title, &r.attempts); err != nil {
				rows.Close()
				return fmt.Errorf("scanning outbox intent: %w", err)
			}
			intents = append(intents, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading outbox intents: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("closing outbox cursor: %w", err)
		}

		for _, in := range intents {
			subject := fmt.Sprintf("Bead status changed: %s", in.beadID)
			body := fmt.Sprintf("%s: %s -> %s (%s)", in.title, orNone(in.oldStatus), in.newStatus, in.beadID)

			sendErr := o.mail.Send(ctx, senderAgentID, senderAlias, in.recipientWorkspaceID, subject, body)
			if sendErr == nil {
				if _, err := tx.ExecContext(ctx, `
					UPDATE {{tables.notifications}} SET processed_at = now() WHERE id = $1`,
					in.id); err != nil {
					return fmt.Errorf("marking intent %d processed: %w", in.id, err)
				}
				sent++
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE {{tables.notifications}}
				SET attempts = attempts + 1, last_error = $1
				WHERE id = $2`, sendErr.Error(), in.id); err != nil {
				return fmt.Errorf("recording failure for intent %d: %w", in.id, err)
			}
			failed++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	var depth int
	row := o.pool.QueryRowContext(ctx, `
		SELECT count(*) FROM {{tables.notifications}}
		WHERE project_id = $1 AND processed_at IS NULL AND attempts < $2`,
		projectID, o.maxAttempts)
	_ = row.Scan(&depth) // best-effort for the gauge; drain already succeeded
	telemetry.RecordOutbox(ctx, projectID, sent, failed, depth)

	return sent, failed, nil
}

// pendingProjects returns distinct project ids with at least one
// unprocessed, not-yet-exhausted intent.
func (o *Outbox) pendingProjects(ctx context.Context) ([]string, error) {
	rows, err := o.pool.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM {{tables.notifications}}
		WHERE processed_at IS NULL AND attempts < $1`, o.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("listing pending outbox projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning pending project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RunWorker drains every project's outbox on a fixed interval until ctx is
// canceled, the in-process worker spec.md §4.6 names as the outbox's
// collaborator. senderAgentID/senderAlias identify the system sender
// stamped on outgoing mail.
func (o *Outbox) RunWorker(ctx context.Context, interval time.Duration, senderAgentID, senderAlias string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			projects, err := o.pendingProjects(ctx)
			if err != nil {
				log.Printf("outbox: listing pending projects: %v", err)
				continue
			}
			for _, projectID := range projects {
				sent, failed, err := o.ProcessOutbox(ctx, projectID, senderAgentID, senderAlias)
				if err != nil {
					log.Printf("outbox: processing project %s: %v", projectID, err)
					continue
				}
				if sent > 0 || failed > 0 {
					log.Printf("outbox: project %s sent=%d failed=%d", projectID, sent, failed)
				}
			}
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
