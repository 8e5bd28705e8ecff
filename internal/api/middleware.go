package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// CORSMiddleware answers preflight requests and allows credentialed
// cross-origin calls from the configured clients.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Session-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the Authorization bearer value, if present.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// sessionID pulls the session id from the cookie or the X-Session-ID
// header.
func sessionID(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return r.Header.Get("X-Session-ID")
}

// Authenticate resolves the caller to an internal user id from either
// a bearer token or a session, and rejects everything else. Downstream
// handlers read the id from the request context and never see which
// credential type was used.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if raw := bearerToken(r); raw != "" {
			claims, err := s.verifier.Verify(ctx, raw)
			if err != nil {
				s.authFailed(w, "token rejected", err)
				return
			}
			userID, err := s.resolver.Resolve(ctx, claims.Subject, claims)
			if err != nil {
				s.authFailed(w, "identity resolution failed", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, userID)))
			return
		}

		if id := sessionID(r); id != "" {
			sess, err := s.sessions.Validate(ctx, id)
			if err != nil {
				s.authFailed(w, "session rejected", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, sess.UserID)))
			return
		}

		s.authFailed(w, "no credentials presented", nil)
	})
}
