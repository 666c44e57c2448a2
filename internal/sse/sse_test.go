package sse

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/beadhub/beadhub/internal/eventbus"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return eventbus.New(rdb)
}

func TestStream_DeliversMatchingEvent(t *testing.T) {
	bus := newTestBus(t)
	streamer := New(bus, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Stream(w, r, []string{"ws1"}, "", false, nil)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// Give the handler time to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	if _, err := bus.Publish(context.Background(), eventbus.Event{
		Type: eventbus.EventBeadClaimed, WorkspaceID: "ws1", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	line, err := readDataLine(resp.Body, 3*time.Second)
	if err != nil {
		t.Fatalf("reading SSE frame: %v", err)
	}
	if !strings.Contains(line, "bead.claimed") {
		t.Errorf("frame = %q, want it to contain bead.claimed", line)
	}
}

func TestStream_PublicReaderForcesCategoryFilter(t *testing.T) {
	bus := newTestBus(t)
	streamer := New(bus, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// category filter passed as "message" but publicReader=true forces "bead"
		streamer.Stream(w, r, []string{"ws1"}, "message", true, nil)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	time.Sleep(100 * time.Millisecond)
	// A message event should be filtered out for a public reader.
	if _, err := bus.Publish(context.Background(), eventbus.Event{
		Type: eventbus.EventMessageDelivered, WorkspaceID: "ws1", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	// A bead event should pass through.
	if _, err := bus.Publish(context.Background(), eventbus.Event{
		Type: eventbus.EventBeadClaimed, WorkspaceID: "ws1", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	line, err := readDataLine(resp.Body, 3*time.Second)
	if err != nil {
		t.Fatalf("reading SSE frame: %v", err)
	}
	if strings.Contains(line, "message.delivered") {
		t.Errorf("public reader should not see message events, got %q", line)
	}
	if !strings.Contains(line, "bead.claimed") {
		t.Errorf("frame = %q, want bead.claimed to pass the public filter", line)
	}
}

func TestStream_EmptyWorkspaceListEmitsOnlyKeepalives(t *testing.T) {
	bus := newTestBus(t)
	streamer := New(bus, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Stream(w, r, nil, "", false, nil)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := readLineWithTimeout(reader, 2*time.Second)
	if err != nil {
		t.Fatalf("reading keepalive: %v", err)
	}
	if !strings.HasPrefix(line, ": keepalive") {
		t.Errorf("line = %q, want a keepalive comment", line)
	}
}

// readDataLine reads from r until it finds a line beginning with "data: ",
// or the timeout elapses.
func readDataLine(r io.Reader, timeout time.Duration) (string, error) {
	reader := bufio.NewReader(r)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			return line, nil
		}
	}
	return "", context.DeadlineExceeded
}

func readLineWithTimeout(r *bufio.Reader, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			continue
		}
		if strings.TrimSpace(line) != "" {
			return strings.TrimRight(line, "\n"), nil
		}
	}
	return "", context.DeadlineExceeded
}
