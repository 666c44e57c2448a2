package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/beadhub/beadhub/internal/sqlstore"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s := NewServer(Deps{
		Pool:              sqlstore.NewFromDB(db),
		Redis:             rdb,
		PresenceTTL:       30 * time.Minute,
		OutboxMaxAttempts: 5,
	})
	return s, mock, mr
}

func TestHealthEndpoint_ReportsOK(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestUnknownRoute_Is404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestProtectedRoute_RejectsMissingAuth(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/claims", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401, body = %s", w.Code, w.Body.String())
	}
}

func TestInitRoute_IsPublicAndRateLimited(t *testing.T) {
	s, _, _ := newTestServer(t)
	handler := s.routes()

	// Past the rate limiter burst, /v1/init keeps returning something
	// other than 401 unauthorized since the path is public; once the
	// burst is exhausted it degrades to 429 rather than reaching the
	// handler at all.
	var lastCode int
	for i := 0; i < initRateLimitBurst+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/init", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		lastCode = w.Code
		if w.Code == http.StatusUnauthorized {
			t.Fatalf("iteration %d: /v1/init should never require auth, got 401", i)
		}
	}
	if lastCode != http.StatusTooManyRequests {
		t.Errorf("final status = %d, want 429 after exhausting the burst", lastCode)
	}
}

func TestOptionsRequest_ShortCircuitsBeforeAuth(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/claims", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for CORS preflight", w.Code)
	}
}
