package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// withAuth enforces the shared-secret bearer check. The comparison is
// constant-time, and the rejection message never reveals whether a secret
// is configured at all.
func (s *server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			if s.allowUnauthenticated {
				next.ServeHTTP(w, r)
				return
			}
			// No secret configured: fail closed, never silently open.
			s.writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRecover converts a handler panic into a counted 500. A best-effort
// error envelope is written; when headers are already out (mid-stream) the
// response is simply cut short.
func (s *server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.stats.RecordError()
			s.log.Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Msg("handler panicked")
			s.writeError(w, http.StatusInternalServerError, "api_error", "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies the optional per-client-IP limiter ahead of the
// global admission gate.
func (s *server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			s.writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func clientIP(r *http.Request) string {
	// middleware.RealIP has already folded X-Forwarded-For into RemoteAddr.
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
