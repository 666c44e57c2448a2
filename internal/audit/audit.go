// Package audit writes server.audit_log rows inside the same transaction as
// the mutation itself, per spec.md §3's AuditLog entity. The callers are the
// workspace registry's register, update (heartbeats included) and
// soft-delete paths; claims, issue sync and escalation responses write no
// audit row. Policy
// evaluation is out of scope; this package only records that something
// happened, never interprets project_policies.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beadhub/beadhub/internal/sqlstore"
)

// Record writes one audit_log row. details is marshaled to JSON;
// workspaceID may be empty for project-level events with no single
// workspace actor.
func Record(ctx context.Context, tx *sqlstore.Tx, projectID, workspaceID, eventType string, details any) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshaling audit details: %w", err)
	}
	var workspaceArg any
	if workspaceID != "" {
		workspaceArg = workspaceID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO {{tables.audit_log}} (project_id, workspace_id, event_type, details)
		VALUES ($1, $2, $3, $4)`,
		projectID, workspaceArg, eventType, payload); err != nil {
		return fmt.Errorf("recording audit log for %s: %w", eventType, err)
	}
	return nil
}
