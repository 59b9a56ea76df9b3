package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inkpost/internal/auth"
	"inkpost/internal/models"
	"inkpost/internal/ratelimit"
	"inkpost/internal/storage"
	"inkpost/internal/version"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "admin-token-for-handler-tests"

// testEnv wires handlers, storage and limiter the way main does.
type testEnv struct {
	router   *mux.Router
	handlers *Handlers
	store    *storage.MemoryStorage
	limiter  *ratelimit.Limiter
	config   *models.Config
}

func newTestEnv(t *testing.T, mutate ...func(*models.Config)) *testEnv {
	t.Helper()

	cfg := models.NewDefaultConfig()
	cfg.Security.AdminTokens = []string{testAdminToken}
	cfg.RateLimit.View = models.RateLimitPolicy{Window: 3 * time.Second, Max: 3}
	for _, m := range mutate {
		m(cfg)
	}

	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(ratelimit.DefaultHighWaterMark))
	policies := ratelimit.PoliciesFromConfig(cfg.RateLimit, cfg.Security.APIKeyLimits)
	authenticator := auth.NewAuthenticator(store, limiter, policies, nil)

	h := NewHandlers(store, limiter, version.Info{Version: "v0.0.0-test", GitCommit: "abcdef0"}, WithComments(cfg.Comments))
	return &testEnv{
		router:   SetupRoutes(h, cfg, authenticator),
		handlers: h,
		store:    store,
		limiter:  limiter,
		config:   cfg,
	}
}

// do sends a request through the full router.
func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// seedKey stores a key with perms and returns its raw credential.
func (e *testEnv) seedKey(t *testing.T, perms ...models.Permission) string {
	t.Helper()
	raw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, e.store.CreateAPIKey(context.Background(), models.NewAPIKey(models.NewKeyID(), "test", raw, perms)))
	return raw
}

func (e *testEnv) seedPost(t *testing.T, slug string, status models.PostStatus) *models.Post {
	t.Helper()
	p := models.NewPost(slug, "Title "+slug, "body")
	p.Status = status
	require.NoError(t, e.store.CreatePost(context.Background(), p))
	return p
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

type pingFailStorage struct {
	*storage.MemoryStorage
}

func (pingFailStorage) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		rr := env.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)

		var resp models.HealthCheckResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "v0.0.0-test+abcdef0", resp.Version)
		assert.Equal(t, "healthy", resp.Components["storage"].Status)
		assert.Equal(t, "healthy", resp.Components["rate_limit"].Status)
	}
}

func TestHealthCheck_StorageDown(t *testing.T) {
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	h := NewHandlers(pingFailStorage{mem}, nil, version.Info{Version: "v1"})

	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["storage"].Status)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestRecordView_CountsPublishedPost(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "hello-world", models.PostStatusPublished)
	ip := map[string]string{"X-Real-IP": "203.0.113.7"}

	for want := int64(1); want <= 2; want++ {
		rr := env.do(http.MethodPost, "/api/v1/posts/views", map[string]string{"slug": "  hello-world "}, ip)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.ViewCountResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, want, resp.Count)
		assert.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRecordView_Validation(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) {
		c.RateLimit.View = models.RateLimitPolicy{Window: time.Minute, Max: 100}
	})
	env.seedPost(t, "draft-post", models.PostStatusDraft)

	long := bytes.Repeat([]byte("a"), models.MaxSlugLength+1)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"malformed json", "{not json", http.StatusBadRequest},
		{"missing slug", map[string]string{}, http.StatusBadRequest},
		{"blank slug", map[string]string{"slug": "   "}, http.StatusBadRequest},
		{"slug too long", map[string]string{"slug": string(long)}, http.StatusBadRequest},
		{"unknown post", map[string]string{"slug": "nope"}, http.StatusNotFound},
		{"unpublished post", map[string]string{"slug": "draft-post"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/v1/posts/views", tt.body, map[string]string{"X-Real-IP": "198.51.100.1"})
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Remaining"))
		})
	}
}

func TestRecordView_ThrottledPerClientIP(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "popular", models.PostStatusPublished)
	body := map[string]string{"slug": "popular"}
	first := map[string]string{"X-Real-IP": "192.0.2.10"}

	for i := 0; i < 3; i++ {
		rr := env.do(http.MethodPost, "/api/v1/posts/views", body, first)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := env.do(http.MethodPost, "/api/v1/posts/views", body, first)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, decodeError(t, rr).Code)

	// A different address has its own bucket.
	rr = env.do(http.MethodPost, "/api/v1/posts/views", body, map[string]string{"X-Real-IP": "192.0.2.11"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRecordView_ThrottleDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) { c.RateLimit.Enabled = false })
	env.seedPost(t, "open", models.PostStatusPublished)

	for i := 0; i < 5; i++ {
		rr := env.do(http.MethodPost, "/api/v1/posts/views", map[string]string{"slug": "open"}, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestOpenPosts_CRUD(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedKey(t, models.AllPermissions...)
	hdr := map[string]string{"X-API-Key": key}

	rr := env.do(http.MethodPost, "/api/v1/open/posts", map[string]string{"slug": "first", "title": "First", "content": "hi"}, hdr)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created models.Post
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, models.PostStatusDraft, created.Status)
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))

	rr = env.do(http.MethodGet, "/api/v1/open/posts/"+created.ID, nil, hdr)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPatch, "/api/v1/open/posts/"+created.ID, map[string]string{"status": "PUBLISHED", "title": " Renamed "}, hdr)
	require.Equal(t, http.StatusOK, rr.Code)
	var updated models.Post
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, models.PostStatusPublished, updated.Status)

	rr = env.do(http.MethodGet, "/api/v1/open/posts", nil, hdr)
	require.Equal(t, http.StatusOK, rr.Code)
	var list models.ListPostsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 1, list.TotalCount)

	rr = env.do(http.MethodDelete, "/api/v1/open/posts/"+created.ID, nil, hdr)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodGet, "/api/v1/open/posts/"+created.ID, nil, hdr)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOpenPosts_Errors(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedKey(t, models.AllPermissions...)
	hdr := map[string]string{"X-API-Key": key}
	env.seedPost(t, "taken", models.PostStatusDraft)

	rr := env.do(http.MethodPost, "/api/v1/open/posts", map[string]string{"slug": "taken", "title": "Dup"}, hdr)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(http.MethodPost, "/api/v1/open/posts", map[string]string{"slug": "no-title"}, hdr)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrorCodeValidation, decodeError(t, rr).Code)

	rr = env.do(http.MethodPost, "/api/v1/open/posts", "{", hdr)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodPatch, "/api/v1/open/posts/missing", map[string]string{"title": "x"}, hdr)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(http.MethodDelete, "/api/v1/open/posts/missing", nil, hdr)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOpenPosts_PermissionPerRoute(t *testing.T) {
	env := newTestEnv(t)
	reader := map[string]string{"X-API-Key": env.seedKey(t, models.PermissionPostRead)}
	post := env.seedPost(t, "guarded", models.PostStatusPublished)

	rr := env.do(http.MethodGet, "/api/v1/open/posts", nil, reader)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPost, "/api/v1/open/posts", map[string]string{"slug": "s", "title": "t"}, reader)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, models.ErrorCodeInsufficientPermission, decodeError(t, rr).Code)

	rr = env.do(http.MethodDelete, "/api/v1/open/posts/"+post.ID, nil, reader)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOpenPosts_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/v1/open/posts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, models.ErrorCodeMissingCredential, resp.Code)
	assert.Equal(t, auth.MsgMissingCredential, resp.Message)
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))

	rr = env.do(http.MethodGet, "/api/v1/open/posts", nil, map[string]string{"Authorization": "Bearer eak_unknown"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, models.ErrorCodeInvalidCredential, decodeError(t, rr).Code)
}

func TestRouter_MethodNotAllowedAndNotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/posts/views"},
		{http.MethodPut, "/api/v1/comments?slug=x"},
		{http.MethodPut, "/api/v1/open/posts"},
		{http.MethodPost, "/api/v1/open/posts/some-id"},
		{http.MethodPut, "/api/v1/admin/keys"},
		{http.MethodGet, "/api/v1/admin/comments/some-id"},
		{http.MethodPost, "/health"},
	} {
		rr := env.do(tc.method, tc.path, nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), "%s %s", tc.method, tc.path)
	}

	// Matching methods still reach their handlers.
	rr := env.do(http.MethodGet, "/api/v1/comments?slug=missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "post not found", decodeError(t, rr).Message)

	rr = env.do(http.MethodGet, "/api/v1/nothing-here", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, rr).Code)
}
