package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIPRateLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	rl := newIPRateLimiter(initRateLimitRPS, initRateLimitBurst)

	for i := 0; i < initRateLimitBurst; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d: expected allowed within burst", i)
		}
	}
	if rl.allow("1.2.3.4") {
		t.Error("expected burst to be exhausted")
	}
}

func TestIPRateLimiter_TracksIPsIndependently(t *testing.T) {
	rl := newIPRateLimiter(initRateLimitRPS, initRateLimitBurst)

	for i := 0; i < initRateLimitBurst; i++ {
		rl.allow("1.2.3.4")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("a different source IP should have its own bucket")
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	rl := newIPRateLimiter(initRateLimitRPS, 1)
	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called++ })
	h := rateLimitMiddleware(rl, next)

	req := httptest.NewRequest(http.MethodPost, "/v1/init", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK && w1.Code != 0 {
		t.Fatalf("first request status = %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", w2.Code)
	}
	if called != 1 {
		t.Errorf("next called %d times, want 1", called)
	}
}

func TestRateLimitMiddleware_FallsBackToRemoteAddrWithoutPort(t *testing.T) {
	rl := newIPRateLimiter(initRateLimitRPS, 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := rateLimitMiddleware(rl, next)

	req := httptest.NewRequest(http.MethodPost, "/v1/init", nil)
	req.RemoteAddr = "no-port-here"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for first request", w.Code)
	}
}
