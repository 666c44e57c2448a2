// Package eventbus publishes typed workspace events over Redis pub/sub
// (spec.md §4.7). A workspace's events live on one channel,
// "events:<workspace_id>", so an SSE handler subscribing to several
// workspaces opens a single multi-channel subscription rather than one
// connection per workspace.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType identifies the kind of event on a workspace channel.
type EventType string

const (
	EventReservationAcquired EventType = "reservation.acquired"
	EventReservationReleased EventType = "reservation.released"
	EventReservationRenewed  EventType = "reservation.renewed"
	EventMessageDelivered    EventType = "message.delivered"
	EventMessageAcknowledged EventType = "message.acknowledged"
	EventEscalationCreated   EventType = "escalation.created"
	EventEscalationResponded EventType = "escalation.responded"
	EventChatMessageSent     EventType = "chat.message_sent"
	EventBeadStatusChanged   EventType = "bead.status_changed"
	EventBeadClaimed         EventType = "bead.claimed"
	EventBeadUnclaimed       EventType = "bead.unclaimed"
)

// category is the dotted prefix a category filter matches against
// ("bead", "message", "escalation", "reservation", "chat").
func (t EventType) category() string {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Event is the JSON record published on a workspace channel.
type Event struct {
	Type        EventType   `json:"type"`
	WorkspaceID string      `json:"workspace_id"`
	Timestamp   time.Time   `json:"timestamp"`
	ProjectSlug string      `json:"project_slug,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
}

// MatchesCategory reports whether the event falls under filter (e.g.
// filter "bead" matches "bead.status_changed"). An empty filter matches
// everything.
func (e Event) MatchesCategory(filter string) bool {
	return filter == "" || e.Type.category() == filter
}

func channelName(workspaceID string) string {
	return "events:" + workspaceID
}

// Bus publishes events to per-workspace Redis pub/sub channels.
type Bus struct {
	rdb *redis.Client
}

// New builds a Bus atop an existing Redis client, the same one
// internal/presence uses (spec.md §5: "one async client per process").
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish sends event to its workspace's channel. Publishers never block
// on absent subscribers; the returned subscriber count is informational
// only, never used for correctness.
func (b *Bus) Publish(ctx context.Context, event Event) (subscribers int64, err error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshaling event: %w", err)
	}
	n, err := b.rdb.Publish(ctx, channelName(event.WorkspaceID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", channelName(event.WorkspaceID), err)
	}
	return n, nil
}

// Subscription wraps a live Redis pub/sub subscription spanning one or
// more workspace channels.
type Subscription struct {
	ps *redis.PubSub
}

// Subscribe opens one subscription covering all of workspaceIDs'
// channels. Callers read events via Next and must Close when done.
func (b *Bus) Subscribe(ctx context.Context, workspaceIDs []string) *Subscription {
	channels := make([]string, len(workspaceIDs))
	for i, id := range workspaceIDs {
		channels[i] = channelName(id)
	}
	return &Subscription{ps: b.rdb.Subscribe(ctx, channels...)}
}

// Next waits up to timeout for the next message. It returns (event, true,
// nil) on a decoded message, (zero, false, nil) on timeout (the caller
// should loop and re-check for client disconnect), and a non-nil error on
// connection failure, in which case the caller should Close and
// re-Subscribe per the reconnect policy in spec.md §4.7.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return Event{}, false, fmt.Errorf("decoding event payload: %w", err)
	}
	return event, true, nil
}

// Ping exercises the pub/sub connection to detect silent drops, per
// spec.md §4.7's "periodically PING the pub/sub connection" instruction.
func (s *Subscription) Ping(ctx context.Context) error {
	return s.ps.Ping(ctx)
}

// Close releases the underlying Redis connection.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
