package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"inkpost/internal/models"
)

// Headers returns the standard rate limit response headers for r.
// Retry-After is only present when the caller has to wait.
func (r Result) Headers() http.Header {
	h := make(http.Header, 4)
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset, 10))
	if r.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(r.RetryAfter))
	}
	return h
}

// WriteHeaders copies the rate limit headers onto w.
func (r Result) WriteHeaders(w http.ResponseWriter) {
	for k, v := range r.Headers() {
		w.Header()[k] = v
	}
}

// IdentityFunc extracts the bucket identity from a request.
type IdentityFunc func(r *http.Request) string

// Middleware returns HTTP middleware that throttles requests under purpose
// and policy. identity defaults to ClientIP. Headers are always set; denied
// requests receive a 429 JSON error.
func Middleware(limiter *Limiter, purpose string, policy Policy, identity IdentityFunc) func(http.Handler) http.Handler {
	if identity == nil {
		identity = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity(r)
			res := limiter.Attempt(r.Context(), Key{Purpose: purpose, Identity: id}, policy)
			res.WriteHeaders(w)

			if !res.OK {
				WriteTooManyRequests(w, "Too many requests, please retry later")
				slog.Warn("Rate limit exceeded",
					"purpose", purpose,
					"identity", id,
					"limit", res.Limit,
					"retry_after", res.RetryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteTooManyRequests writes a 429 JSON error body.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, models.ErrorCodeRateLimitExceeded))
}
