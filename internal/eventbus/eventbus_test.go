package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBus(t *testing.T) (*Bus, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), rdb
}

func TestPublishSubscribe(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, []string{"ws1"})
	defer sub.Close()

	// miniredis delivers asynchronously; give the subscribe a moment to land.
	time.Sleep(50 * time.Millisecond)

	if _, err := bus.Publish(ctx, Event{Type: EventBeadClaimed, WorkspaceID: "ws1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	event, ok, err := sub.Next(ctx, time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatal("Next() timed out waiting for published event")
	}
	if event.Type != EventBeadClaimed || event.WorkspaceID != "ws1" {
		t.Errorf("Next() = %+v, want bead.claimed for ws1", event)
	}
}

func TestSubscribe_MultipleChannels(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, []string{"ws1", "ws2"})
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	if _, err := bus.Publish(ctx, Event{Type: EventBeadClaimed, WorkspaceID: "ws2", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	event, ok, err := sub.Next(ctx, time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok || event.WorkspaceID != "ws2" {
		t.Errorf("Next() = %+v ok=%v, want ws2 event", event, ok)
	}
}

func TestNext_TimesOutWithoutEvent(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, []string{"ws1"})
	defer sub.Close()

	_, ok, err := sub.Next(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ok {
		t.Error("Next() should time out when nothing is published")
	}
}

func TestEventType_MatchesCategory(t *testing.T) {
	event := Event{Type: EventBeadStatusChanged}
	if !event.MatchesCategory("bead") {
		t.Error("bead.status_changed should match category bead")
	}
	if event.MatchesCategory("message") {
		t.Error("bead.status_changed should not match category message")
	}
	if !event.MatchesCategory("") {
		t.Error("empty filter should match everything")
	}
}

func TestPublish_NoSubscribersDoesNotBlock(t *testing.T) {
	bus, _ := newTestBus(t)
	n, err := bus.Publish(context.Background(), Event{Type: EventBeadClaimed, WorkspaceID: "ws-nobody-listening"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Publish() subscriber count = %d, want 0", n)
	}
}
