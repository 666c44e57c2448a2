// Package sse streams EventBus events to HTTP clients as Server-Sent
// Events (spec.md §4.7), with reconnect-with-backoff against Redis and a
// keepalive comment so proxies don't time the connection out.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/beadhub/beadhub/internal/eventbus"
)

const (
	readTimeout      = time.Second
	keepaliveDefault = 30 * time.Second
	backoffMin       = 100 * time.Millisecond
	backoffMax       = 5 * time.Second
	idleGuard        = 5 * time.Minute
)

// PublicCategory is the only category a public reader may subscribe to
// (spec.md §4.7 "Public readers are restricted... to the bead category").
const PublicCategory = "bead"

// Streamer writes EventBus events to an http.ResponseWriter as SSE
// frames.
type Streamer struct {
	bus              *eventbus.Bus
	keepaliveSeconds time.Duration
}

// New builds a Streamer. keepalive is the interval after which an idle
// connection receives a ": keepalive" comment (spec.md §4.7 default 30s);
// zero selects the default.
func New(bus *eventbus.Bus, keepalive time.Duration) *Streamer {
	if keepalive <= 0 {
		keepalive = keepaliveDefault
	}
	return &Streamer{bus: bus, keepaliveSeconds: keepalive}
}

// Stream writes events for workspaceIDs, filtered by categoryFilter (a
// dotted event-type prefix, or "" for everything, forced to
// PublicCategory when publicReader is true), until the request context
// is canceled or disconnected() returns true. It never returns an error
// for a client disconnect; only a missing http.Flusher is an error.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, workspaceIDs []string, categoryFilter string, publicReader bool, disconnected func() bool) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}
	if publicReader {
		categoryFilter = PublicCategory
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	if len(workspaceIDs) == 0 {
		return s.streamKeepalivesOnly(ctx, w, flusher, disconnected)
	}

	sub := s.bus.Subscribe(ctx, workspaceIDs)
	defer sub.Close()

	backoff := backoffMin
	lastOutput := time.Now()

	for {
		if ctx.Err() != nil || (disconnected != nil && disconnected()) {
			return nil
		}

		event, ok, err := sub.Next(ctx, readTimeout)
		if err != nil {
			sub.Close()
			log.Printf("sse: subscription error, reconnecting in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			sub = s.bus.Subscribe(ctx, workspaceIDs)
			continue
		}
		backoff = backoffMin

		if ok {
			if !event.MatchesCategory(categoryFilter) {
				continue
			}
			data, merr := marshalEvent(event)
			if merr != nil {
				continue
			}
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
				return nil
			}
			flusher.Flush()
			lastOutput = time.Now()
			continue
		}

		if time.Since(lastOutput) >= s.keepaliveSeconds {
			if _, werr := fmt.Fprint(w, ": keepalive\n\n"); werr != nil {
				return nil
			}
			flusher.Flush()
			lastOutput = time.Now()
			if perr := sub.Ping(ctx); perr != nil {
				log.Printf("sse: keepalive ping failed: %v", perr)
			}
		}
	}
}

// streamKeepalivesOnly handles the empty-workspace-list case: emit only
// keepalives, for up to idleGuard, then close (spec.md §4.7's
// resource-leak guard).
func (s *Streamer) streamKeepalivesOnly(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, disconnected func() bool) error {
	deadline := time.Now().Add(idleGuard)
	ticker := time.NewTicker(s.keepaliveSeconds)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if disconnected != nil && disconnected() {
				return nil
			}
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func marshalEvent(event eventbus.Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
