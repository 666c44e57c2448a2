package httpapi

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// initRateLimitRPS and initRateLimitBurst bound /v1/init calls per source
// IP, the only endpoint spec.md §6 calls out as rate-limited — it is the
// one unauthenticated write path, so it is the one an attacker could
// otherwise hammer to mint API keys.
const (
	initRateLimitRPS   = 1
	initRateLimitBurst = 5
)

// ipRateLimiter hands out one golang.org/x/time/rate.Limiter per source IP,
// lazily created and kept for the life of the process. Unbounded growth is
// an accepted tradeoff for a single-purpose endpoint behind a reverse
// proxy that already caps distinct source IPs.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newIPRateLimiter(rps rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[ip] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

func rateLimitMiddleware(rl *ipRateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !rl.allow(host) {
			writeJSON(w, http.StatusTooManyRequests, errorDetail{Detail: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
