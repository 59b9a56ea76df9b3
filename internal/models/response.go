// Package models - API response types and error handling.
// This file defines outgoing API response structures with consistent formatting.
package models

import (
	"time"
)

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ViewCountResponse is returned by the public view counter.
type ViewCountResponse struct {
	Count int64 `json:"count"`
}

// ListPostsResponse wraps a page of posts.
type ListPostsResponse struct {
	Posts      []*Post `json:"posts"`
	TotalCount int     `json:"total_count"`
}

// ListCommentsResponse wraps the approved comments of a post.
type ListCommentsResponse struct {
	Comments []*Comment `json:"comments"`
}

// CommentResponse wraps a single comment.
type CommentResponse struct {
	Comment *Comment `json:"comment"`
}

// StatsResponse summarises key inventory and limiter state for the admin UI.
type StatsResponse struct {
	APIKeys     APIKeyStats `json:"api_keys"`
	Posts       int         `json:"posts"`
	RateBuckets int         `json:"rate_buckets"`
	GeneratedAt time.Time   `json:"generated_at"`
}

type APIKeyStats struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
	Expired  int `json:"expired"`
}

// Error codes
const (
	ErrorCodeNotFound               = "NOT_FOUND"               // 404: Resource doesn't exist
	ErrorCodeBadRequest             = "BAD_REQUEST"             // 400: Invalid request format
	ErrorCodeInvalidRequest         = "INVALID_REQUEST"         // 400: Invalid request data
	ErrorCodeValidation             = "VALIDATION_ERROR"        // 422: Input validation failed
	ErrorCodeInternalError          = "INTERNAL_ERROR"          // 500: Server-side error
	ErrorCodeUnauthorized           = "UNAUTHORIZED"            // 401: Authentication required
	ErrorCodeForbidden              = "FORBIDDEN"               // 403: Permission denied
	ErrorCodeConflict               = "CONFLICT"                // 409: Resource conflict
	ErrorCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"     // 429: Throttled
	ErrorCodeMissingCredential      = "MISSING_CREDENTIAL"      // 401: No API key presented
	ErrorCodeInvalidCredential      = "INVALID_CREDENTIAL"      // 401: Malformed or unknown API key
	ErrorCodeKeyDisabled            = "KEY_DISABLED"            // 401: Key administratively disabled
	ErrorCodeKeyExpired             = "KEY_EXPIRED"             // 401: Key past its expiry
	ErrorCodeInsufficientPermission = "INSUFFICIENT_PERMISSION" // 403: Key lacks a required scope
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}
