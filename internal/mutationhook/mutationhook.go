// Package mutationhook implements the single callback collaborating
// subsystems (mail, chat, reservations, agent lifecycle) register with to
// have their mutations turned into EventBus events (spec.md §4.8). It
// must never raise: business correctness depends on the SQL transaction
// that already committed by the time the hook runs, not on the hook
// itself, so every failure here is caught and logged.
package mutationhook

import (
	"context"
	"log"
	"time"

	"github.com/beadhub/beadhub/internal/eventbus"
	"github.com/beadhub/beadhub/internal/presence"
)

// WorkspaceDeregisterer performs the cascade side effect for
// agent.deregistered: soft-delete the workspace with the same id and
// clear its claims (internal/workspace.Registry.SoftDelete already does
// both in one transaction).
type WorkspaceDeregisterer interface {
	SoftDelete(ctx context.Context, workspaceID string) error
}

// Fields carries the mutation's context dict. Keys are mutation-specific;
// see the per-type handling in translate.
type Fields map[string]any

func (f Fields) str(key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

// Hook is the registered on_mutation callback.
type Hook struct {
	bus       *eventbus.Bus
	presence  *presence.Store
	workspace WorkspaceDeregisterer
	now       func() time.Time
}

// New builds a Hook. workspace may be nil if the caller never registers
// agent.deregistered mutations (tests exercising only translation).
func New(bus *eventbus.Bus, presenceStore *presence.Store, workspace WorkspaceDeregisterer) *Hook {
	return &Hook{bus: bus, presence: presenceStore, workspace: workspace, now: time.Now}
}

// OnMutation is the callback collaborating subsystems invoke. It never
// returns an error to the caller; all failures are logged internally so a
// misbehaving hook can't abort the mutation that triggered it.
func (h *Hook) OnMutation(ctx context.Context, eventType string, fields Fields) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("mutationhook: recovered panic handling %s: %v", eventType, r)
		}
	}()

	h.runSideEffects(ctx, eventType, fields)

	event, ok := h.translate(eventType, fields)
	if !ok {
		return
	}
	h.enrich(ctx, &event, fields)

	if _, err := h.bus.Publish(ctx, event); err != nil {
		log.Printf("mutationhook: publishing %s for workspace %s: %v", eventType, event.WorkspaceID, err)
	}
}

// runSideEffects handles the cascade that must happen before translation,
// per spec.md §4.8 step 1. Non-fatal: failures are logged and the hook
// continues to translation/publish.
func (h *Hook) runSideEffects(ctx context.Context, eventType string, fields Fields) {
	if eventType != "agent.deregistered" {
		return
	}
	workspaceID := fields.str("workspace_id")
	if workspaceID == "" || h.workspace == nil {
		return
	}
	if err := h.workspace.SoftDelete(ctx, workspaceID); err != nil {
		log.Printf("mutationhook: soft-deleting workspace %s on deregister: %v", workspaceID, err)
	}
	if h.presence != nil {
		if err := h.presence.ClearPresence(ctx, []string{workspaceID}); err != nil {
			log.Printf("mutationhook: clearing presence for %s on deregister: %v", workspaceID, err)
		}
	}
}

// translate maps a mutation's event_type + fields to a typed EventBus
// event. Unknown types are ignored (ok=false), per spec.md §4.8 step 2.
func (h *Hook) translate(eventType string, fields Fields) (eventbus.Event, bool) {
	etype, ok := map[string]eventbus.EventType{
		"reservation.acquired": eventbus.EventReservationAcquired,
		"reservation.released": eventbus.EventReservationReleased,
		"reservation.renewed":  eventbus.EventReservationRenewed,
		"message.delivered":    eventbus.EventMessageDelivered,
		"message.acknowledged": eventbus.EventMessageAcknowledged,
		"escalation.created":   eventbus.EventEscalationCreated,
		"escalation.responded": eventbus.EventEscalationResponded,
		"chat.message_sent":    eventbus.EventChatMessageSent,
		"bead.status_changed":  eventbus.EventBeadStatusChanged,
		"bead.claimed":         eventbus.EventBeadClaimed,
		"bead.unclaimed":       eventbus.EventBeadUnclaimed,
	}[eventType]
	if !ok {
		return eventbus.Event{}, false
	}

	workspaceID := fields.str("recipient_workspace_id")
	if workspaceID == "" {
		workspaceID = fields.str("workspace_id")
	}
	if workspaceID == "" {
		return eventbus.Event{}, false
	}

	return eventbus.Event{
		Type:        etype,
		WorkspaceID: workspaceID,
		Timestamp:   h.now(),
		ProjectSlug: fields.str("project_slug"),
		Payload:     map[string]any(fields),
	}, true
}

// enrich fills in aliases from PresenceStore and, where the fields didn't
// already carry one, leaves the subject lookup to the caller (full
// subject resolution needs a DB handle this package intentionally does
// not hold, to avoid coupling the hook to every schema it might enrich
// from). Enrichment failure never prevents publication, per spec.md
// §4.8 step 3.
func (h *Hook) enrich(ctx context.Context, event *eventbus.Event, fields Fields) {
	if h.presence == nil {
		return
	}
	snap, ok, err := h.presence.Get(ctx, event.WorkspaceID)
	if err != nil || !ok {
		return
	}
	payload, _ := event.Payload.(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	if _, exists := payload["alias"]; !exists && snap.Alias != "" {
		payload["alias"] = snap.Alias
	}
	event.Payload = payload
}
