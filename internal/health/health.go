// Package health implements GET /health: a composed liveness check against
// both backing stores (spec.md §6's health endpoint), so a load balancer or
// orchestrator sees a single signal for "can this instance serve traffic".
package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/beadhub/beadhub/internal/sqlstore"
)

// Status is the outcome of one health check.
type Status struct {
	OK    bool
	SQL   string
	Redis string
}

// Checker composes a SQL ping and a Redis ping.
type Checker struct {
	pool *sqlstore.Pool
	rdb  *redis.Client
}

// New builds a Checker over pool and rdb.
func New(pool *sqlstore.Pool, rdb *redis.Client) *Checker {
	return &Checker{pool: pool, rdb: rdb}
}

// Check runs both pings and reports per-dependency errors without failing
// fast, so a caller sees exactly which backend is unhealthy.
func (c *Checker) Check(ctx context.Context) Status {
	st := Status{OK: true, SQL: "ok", Redis: "ok"}

	if err := c.pool.DB().PingContext(ctx); err != nil {
		st.OK = false
		st.SQL = fmt.Sprintf("error: %v", err)
	}

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		st.OK = false
		st.Redis = fmt.Sprintf("error: %v", err)
	}

	return st
}
