package httpapi

import (
	"log"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/beadhub/beadhub/internal/authn"
)

// recoverMiddleware converts a panicking handler into a 500 response
// instead of killing the listener, and reports the panic to Sentry when
// sentry.Init has configured a client (a no-op otherwise).
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.CurrentHub().Recover(rec)
				log.Printf("httpapi: panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, errorDetail{Detail: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logMiddleware writes one line per request in the teacher's plain
// log.Printf style, after the handler returns.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("httpapi: %s %s -> %d", r.Method, r.URL.Path, sw.status)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// authMiddleware resolves the request's Identity via auth and attaches it
// to the request context, rejecting with 401 on failure. publicPaths are
// served without authentication (e.g. /health, /v1/init).
func authMiddleware(auth *authn.Authenticator, publicPaths map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		id, err := auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		r = r.WithContext(authn.WithIdentity(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-BH-Auth, X-Project-ID, X-User-ID, X-API-Key, X-Aweb-Actor-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
