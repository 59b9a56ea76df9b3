// Package auth validates API key credentials presented on the open API.
//
// Authenticate runs a fixed pipeline: per-IP attempt budget, credential
// extraction, marker check, hashed lookup, enabled/expiry checks, per-key
// usage budget and finally the permission check. The first failing step
// decides the response. Invalid credentials consume a separate per-IP budget
// so that guessing is throttled harder than ordinary use.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/ratelimit"
	"inkpost/internal/storage"
	"inkpost/internal/tasks"
)

// Failure causes, usable with errors.Is on Result.Err.
var (
	ErrRateLimited            = errors.New("rate limited")
	ErrMissingCredential      = errors.New("missing credential")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrKeyDisabled            = errors.New("key disabled")
	ErrKeyExpired             = errors.New("key expired")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrStore                  = errors.New("key store unavailable")
)

// Response messages. Unknown and malformed credentials deliberately share one.
const (
	MsgRateLimited            = "Too many requests, please retry later"
	MsgInvalidRateLimited     = "Too many invalid requests, please retry later"
	MsgMissingCredential      = "Missing API key"
	MsgInvalidCredential      = "Invalid API key"
	MsgKeyDisabled            = "API key is disabled"
	MsgKeyExpired             = "API key has expired"
	MsgInsufficientPermission = "Insufficient permissions"
	MsgInternal               = "Unable to verify API key"
)

// KeyStore is the subset of storage the authenticator needs.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time, ip string) error
}

// Enqueuer schedules background work.
type Enqueuer interface {
	Enqueue(name string, fn tasks.Func) bool
}

// Result is the outcome of Authenticate. Headers always carry the rate limit
// state of the budget that decided the outcome.
type Result struct {
	OK      bool
	Key     *models.APIKey
	Status  int
	Code    string
	Message string
	Headers http.Header
	Err     error
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock replaces time.Now for expiry checks and last-use stamps.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// Authenticator validates API keys. It is safe for concurrent use.
type Authenticator struct {
	store    KeyStore
	limiter  *ratelimit.Limiter
	policies ratelimit.Policies
	tasks    Enqueuer
	now      func() time.Time
}

// NewAuthenticator wires the authenticator. runner may be nil, in which case
// last-use updates run inline.
func NewAuthenticator(store KeyStore, limiter *ratelimit.Limiter, policies ratelimit.Policies, runner Enqueuer, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:    store,
		limiter:  limiter,
		policies: policies,
		tasks:    runner,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate validates the credential on r and checks that the key holds
// every permission in required.
func (a *Authenticator) Authenticate(r *http.Request, required ...models.Permission) Result {
	ctx := r.Context()
	ip := ratelimit.ClientIP(r)

	attempt := a.limiter.Attempt(ctx, ratelimit.Key{Purpose: ratelimit.PurposeAPIKeyAttempt, Identity: ip}, a.policies.APIKeyAttempt)
	if !attempt.OK {
		return a.fail(ip, attempt, http.StatusTooManyRequests, models.ErrorCodeRateLimitExceeded, MsgRateLimited, ErrRateLimited)
	}

	raw := ExtractAPIKey(r)
	if raw == "" {
		return a.fail(ip, attempt, http.StatusUnauthorized, models.ErrorCodeMissingCredential, MsgMissingCredential, ErrMissingCredential)
	}

	if !strings.HasPrefix(raw, models.APIKeyMarker) {
		return a.invalid(ctx, ip)
	}

	key, err := a.store.GetAPIKeyByHash(ctx, models.HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return a.invalid(ctx, ip)
		}
		slog.Error("API key lookup failed", "ip", ip, "error", err)
		return Result{
			Status:  http.StatusInternalServerError,
			Code:    models.ErrorCodeInternalError,
			Message: MsgInternal,
			Headers: attempt.Headers(),
			Err:     errors.Join(ErrStore, err),
		}
	}

	if !key.Enabled {
		return a.fail(ip, attempt, http.StatusUnauthorized, models.ErrorCodeKeyDisabled, MsgKeyDisabled, ErrKeyDisabled, "key_id", key.ID)
	}

	now := a.now()
	if key.IsExpired(now) {
		return a.fail(ip, attempt, http.StatusUnauthorized, models.ErrorCodeKeyExpired, MsgKeyExpired, ErrKeyExpired, "key_id", key.ID)
	}

	usage := a.limiter.Attempt(ctx, ratelimit.Key{Purpose: ratelimit.PurposeAPIKeyUsage, Identity: ip, Sub: key.ID}, a.policies.APIKeyUsage)
	if !usage.OK {
		return a.fail(ip, usage, http.StatusTooManyRequests, models.ErrorCodeRateLimitExceeded, MsgRateLimited, ErrRateLimited, "key_id", key.ID)
	}

	key.Permissions = models.NormalizePermissions(key.Permissions)
	if !models.HasPermissions(key.Permissions, required...) {
		return a.fail(ip, usage, http.StatusForbidden, models.ErrorCodeInsufficientPermission, MsgInsufficientPermission, ErrInsufficientPermission,
			"key_id", key.ID, "required", required)
	}

	a.recordUse(key.ID, now, ip)

	return Result{
		OK:      true,
		Key:     key,
		Status:  http.StatusOK,
		Headers: usage.Headers(),
	}
}

// invalid consumes the invalid-credential budget for ip.
func (a *Authenticator) invalid(ctx context.Context, ip string) Result {
	res := a.limiter.Attempt(ctx, ratelimit.Key{Purpose: ratelimit.PurposeAPIKeyInvalid, Identity: ip}, a.policies.APIKeyInvalid)
	if !res.OK {
		return a.fail(ip, res, http.StatusTooManyRequests, models.ErrorCodeRateLimitExceeded, MsgInvalidRateLimited, ErrRateLimited)
	}
	return a.fail(ip, res, http.StatusUnauthorized, models.ErrorCodeInvalidCredential, MsgInvalidCredential, ErrInvalidCredential)
}

func (a *Authenticator) fail(ip string, rl ratelimit.Result, status int, code, msg string, cause error, attrs ...any) Result {
	slog.Warn("API key rejected",
		append([]any{
			"event", "security_audit",
			"reason", code,
			"status", status,
			"ip", ip,
		}, attrs...)...,
	)
	return Result{
		Status:  status,
		Code:    code,
		Message: msg,
		Headers: rl.Headers(),
		Err:     cause,
	}
}

func (a *Authenticator) recordUse(id string, usedAt time.Time, ip string) {
	touch := func(ctx context.Context) error {
		return a.store.TouchAPIKey(ctx, id, usedAt, ip)
	}
	if a.tasks != nil {
		a.tasks.Enqueue("api-key-touch", touch)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := touch(ctx); err != nil {
		slog.Error("Failed to record API key use", "key_id", id, "error", err)
	}
}

// ExtractAPIKey returns the credential from X-API-Key, or from an
// "Authorization: Bearer" header with a case-insensitive scheme. It returns
// "" when neither carries a non-empty value.
func ExtractAPIKey(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return strings.TrimSpace(v)
	}

	authz := r.Header.Get("Authorization")
	const scheme = "bearer"
	if len(authz) <= len(scheme) || !strings.EqualFold(authz[:len(scheme)], scheme) {
		return ""
	}
	rest := authz[len(scheme):]
	if rest[0] != ' ' && rest[0] != '\t' {
		return ""
	}
	return strings.TrimSpace(rest)
}
