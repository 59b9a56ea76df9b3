package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/ratelimit"

	"github.com/gorilla/mux"
)

type adminContextKey struct{}

// AdminFromContext returns the principal name of the admin token that
// authorised the request.
func AdminFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(adminContextKey{}).(string)
	return name, ok
}

// adminTokenMiddleware admits requests presenting one of the configured admin
// tokens as a bearer credential and records the token's principal in the
// request context. With no tokens configured every request is rejected.
func adminTokenMiddleware(cfg models.SecurityConfig) mux.MiddlewareFunc {
	tokens := make([]models.AdminToken, 0, len(cfg.AdminTokens))
	for _, entry := range cfg.AdminTokens {
		if t := models.ParseAdminToken(entry); t.Token != "" {
			tokens = append(tokens, t)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, ok := matchAdminToken(bearerToken(r), tokens)
			if !ok {
				slog.Warn("admin authentication failed",
					"event", "security_audit",
					"ip", ratelimit.ClientIP(r),
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Admin authorization required", models.ErrorCodeUnauthorized))
				return
			}
			ctx := context.WithValue(r.Context(), adminContextKey{}, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchAdminToken compares token against every configured token in constant
// time and returns the principal of the match.
func matchAdminToken(token string, tokens []models.AdminToken) (string, bool) {
	if token == "" {
		return "", false
	}
	presented := []byte(token)
	name, valid := "", 0
	for _, t := range tokens {
		if subtle.ConstantTimeCompare(presented, []byte(t.Token)) == 1 {
			name, valid = t.Name, 1
		}
	}
	return name, valid == 1
}

// bearerToken returns the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ratelimit.ClientIP(r),
		)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
}

// notFoundHandler returns a JSON 404 for unknown routes.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
}
