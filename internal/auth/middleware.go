package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"inkpost/internal/models"

	"github.com/gorilla/mux"
)

type contextKey struct{}

// WithAPIKey returns a copy of ctx carrying key.
func WithAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// APIKeyFromContext returns the key stored by RequireAPIKey.
func APIKeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(contextKey{}).(*models.APIKey)
	return key, ok && key != nil
}

// RequireAPIKey creates middleware that admits only requests carrying a valid
// API key holding every permission in required.
func RequireAPIKey(a *Authenticator, required ...models.Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := a.Authenticate(r, required...)
			for k, v := range res.Headers {
				w.Header()[k] = v
			}

			if !res.OK {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(res.Status)
				json.NewEncoder(w).Encode(models.NewErrorResponse(res.Message, res.Code))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), res.Key)))
		})
	}
}
