package auth

import (
	"encoding/json"
	"net"
	"net/http"

	"soporte/pkg/logger"
)

// Middleware resolves the caller's identity, rate limits per credential
// and injects the identity into the request context. Resolution failure
// denies with 401; the gate decisions themselves live in the handlers via
// AuthorizeThread.
func Middleware(p Provider, cfg Config) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := p.Resolve(r)
			if err != nil {
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			key := id.Subject
			if key == "" {
				key = clientIP(r)
			}
			if !limiters.Allow(key) {
				logger.Warn("rate_limited", "subject", id.Subject, "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			logger.Debug("request_allowed", "method", r.Method, "path", r.URL.Path, "role", string(id.Role))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
