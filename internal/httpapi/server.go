// Package httpapi wires every BeadHub domain package into the HTTP surface
// spec.md §6 names, following the teacher's internal/api/server.go
// conventions: a functional-options constructor, a stdlib
// http.NewServeMux with Go 1.22+ pattern routes, and a thin middleware
// chain in front of it.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beadhub/beadhub/internal/authn"
	"github.com/beadhub/beadhub/internal/bootstrap"
	"github.com/beadhub/beadhub/internal/claims"
	"github.com/beadhub/beadhub/internal/escalations"
	"github.com/beadhub/beadhub/internal/eventbus"
	"github.com/beadhub/beadhub/internal/health"
	"github.com/beadhub/beadhub/internal/issuesync"
	"github.com/beadhub/beadhub/internal/mail"
	"github.com/beadhub/beadhub/internal/mutationhook"
	"github.com/beadhub/beadhub/internal/outbox"
	"github.com/beadhub/beadhub/internal/presence"
	"github.com/beadhub/beadhub/internal/sqlstore"
	"github.com/beadhub/beadhub/internal/sse"
	"github.com/beadhub/beadhub/internal/status"
	"github.com/beadhub/beadhub/internal/subscriptions"
	"github.com/beadhub/beadhub/internal/workspace"
)

// Server bundles every component GET/POST handlers depend on, constructed
// once at process startup and never rebuilt.
type Server struct {
	pool          *sqlstore.Pool
	rdb           *redis.Client
	auth          *authn.Authenticator
	agents        *sqlKeyLookup
	bootstrap     *bootstrap.Bootstrapper
	workspace     *workspace.Registry
	presence      *presence.Store
	claims        *claims.Coordinator
	issues        *issuesync.Engine
	outbox        *outbox.Outbox
	bus           *eventbus.Bus
	sse           *sse.Streamer
	mutationhook  *mutationhook.Hook
	status        *status.Aggregator
	subscriptions *subscriptions.Registry
	escalations   *escalations.Registry
	health        *health.Checker

	presenceTTL time.Duration

	server      *http.Server
	rateLimiter *ipRateLimiter
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithInternalAuthSecret enables the trusted-proxy authentication path.
func WithInternalAuthSecret(secret string) Option {
	return func(s *Server) { s.auth = authn.New(s.agents, secret) }
}

// Deps carries every constructed domain component NewServer wires
// together; cmd/beadhub builds these once at startup.
type Deps struct {
	Pool               *sqlstore.Pool
	Redis              *redis.Client
	PresenceTTL        time.Duration
	OutboxMaxAttempts  int
	InternalAuthSecret string
}

// NewServer builds a Server from deps, constructing every domain component
// from the shared pool and Redis client.
func NewServer(deps Deps, opts ...Option) *Server {
	presenceStore := presence.New(deps.Redis)
	ws := workspace.New(deps.Pool, presenceStore)
	bus := eventbus.New(deps.Redis)
	subs := subscriptions.New(deps.Pool)
	ob := outbox.New(deps.Pool, subs, mail.New(deps.Pool), deps.OutboxMaxAttempts)
	issues := issuesync.New(deps.Pool, ob)
	keys := newSQLKeyLookup(deps.Pool)

	s := &Server{
		pool:          deps.Pool,
		rdb:           deps.Redis,
		agents:        keys,
		auth:          authn.New(keys, deps.InternalAuthSecret),
		bootstrap:     bootstrap.New(deps.Pool, ws),
		workspace:     ws,
		presence:      presenceStore,
		claims:        claims.New(deps.Pool),
		issues:        issues,
		outbox:        ob,
		bus:           bus,
		sse:           sse.New(bus, 15*time.Second),
		mutationhook:  mutationhook.New(bus, presenceStore, ws),
		status:        status.New(deps.Pool, presenceStore, "primary"),
		subscriptions: subs,
		escalations:   escalations.New(deps.Pool),
		health:        health.New(deps.Pool, deps.Redis),
		presenceTTL:   deps.PresenceTTL,
		rateLimiter:   newIPRateLimiter(initRateLimitRPS, initRateLimitBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/init", s.handleInit)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/workspaces/register", s.handleWorkspaceRegister)
	mux.HandleFunc("POST /v1/workspaces/heartbeat", s.handleWorkspaceHeartbeat)
	mux.HandleFunc("DELETE /v1/workspaces/{workspace_id}", s.handleWorkspaceDelete)
	mux.HandleFunc("POST /v1/workspaces/{workspace_id}/restore", s.handleWorkspaceRestore)
	mux.HandleFunc("GET /v1/workspaces/{workspace_id}", s.handleWorkspaceGet)
	mux.HandleFunc("GET /v1/workspaces", s.handleWorkspaceList)

	mux.HandleFunc("POST /v1/bdh/command", s.handleBDHCommand)
	mux.HandleFunc("POST /v1/bdh/sync", s.handleBDHSync)

	mux.HandleFunc("POST /v1/beads/upload", s.handleBeadsUpload)
	mux.HandleFunc("POST /v1/beads/upload-jsonl", s.handleBeadsUpload)
	mux.HandleFunc("GET /v1/beads/issues", s.handleIssuesList)
	mux.HandleFunc("GET /v1/beads/ready", s.handleIssuesReady)

	mux.HandleFunc("GET /v1/claims", s.handleClaimsList)

	mux.HandleFunc("POST /v1/escalations", s.handleEscalationCreate)
	mux.HandleFunc("GET /v1/escalations", s.handleEscalationsList)
	mux.HandleFunc("POST /v1/escalations/{id}/respond", s.handleEscalationRespond)

	mux.HandleFunc("POST /v1/subscriptions", s.handleSubscriptionCreate)
	mux.HandleFunc("GET /v1/subscriptions", s.handleSubscriptionsList)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.handleSubscriptionDelete)

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/status/stream", s.handleStatusStream)

	mux.HandleFunc("DELETE /v1/agents/me", s.handleAgentsMeDelete)
	mux.HandleFunc("GET /v1/agents", s.handleAgentsList)

	publicPaths := map[string]bool{"/health": true, "/v1/init": true}

	authed := authMiddleware(s.auth, publicPaths, mux)
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Paths no route matches get the mux's own 404 without an auth check.
		if _, pattern := mux.Handler(r); pattern == "" {
			mux.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
	handler = rateLimitOnlyInit(s.rateLimiter, handler)
	handler = logMiddleware(handler)
	handler = recoverMiddleware(handler)
	handler = corsMiddleware(handler)
	return handler
}

// rateLimitOnlyInit applies the IP rate limiter to /v1/init only, the one
// unauthenticated write path (spec.md §6).
func rateLimitOnlyInit(rl *ipRateLimiter, next http.Handler) http.Handler {
	limited := rateLimitMiddleware(rl, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/init" {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start builds the HTTP server and begins serving on addr. The server has a
// 30-second ReadTimeout and no WriteTimeout, so long-lived SSE responses
// such as /v1/status/stream are never cut off by a write deadline.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// RunOutboxWorker starts the outbox's background drain loop, stopping when
// ctx is canceled. senderAgentID/senderAlias identify the system sender
// stamped on outgoing mail.
func (s *Server) RunOutboxWorker(ctx context.Context, interval time.Duration, senderAgentID, senderAlias string) {
	s.outbox.RunWorker(ctx, interval, senderAgentID, senderAlias)
}

// RunEscalationSweeper starts the escalation expiry sweep loop, stopping
// when ctx is canceled.
func (s *Server) RunEscalationSweeper(ctx context.Context, interval time.Duration) {
	s.escalations.RunSweeper(ctx, interval)
}
