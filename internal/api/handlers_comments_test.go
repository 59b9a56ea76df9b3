package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"inkpost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validComment(content string) map[string]string {
	return map[string]string{
		"content":      content,
		"author_name":  "Ada",
		"author_email": "ada@example.com",
	}
}

func TestCreateComment_ListsApproved(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "hello", models.PostStatusPublished)

	rr := env.do(http.MethodPost, "/api/v1/comments?slug=hello", validComment("<b>Great</b> post"), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "30", rr.Header().Get("X-RateLimit-Limit"))

	var created models.CommentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "Great post", created.Comment.Content)
	assert.Equal(t, models.CommentStatusApproved, created.Comment.Status)
	assert.NotContains(t, rr.Body.String(), "ada@example.com", "email is never echoed")

	reply := validComment("Agreed")
	reply["parent_id"] = created.Comment.ID
	rr = env.do(http.MethodPost, "/api/v1/comments?slug=hello", reply, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(http.MethodGet, "/api/v1/comments?slug=hello", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list models.ListCommentsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Comments, 2)
	assert.Equal(t, created.Comment.ID, list.Comments[1].ParentID)
}

func TestCreateComment_Moderated(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) { c.Comments.ModerationRequired = true })
	env.seedPost(t, "hello", models.PostStatusPublished)

	rr := env.do(http.MethodPost, "/api/v1/comments?slug=hello", validComment("held"), nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created models.CommentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, models.CommentStatusPending, created.Comment.Status)

	rr = env.do(http.MethodGet, "/api/v1/comments?slug=hello", nil, nil)
	var list models.ListCommentsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Empty(t, list.Comments)

	reply := validComment("reply to pending")
	reply["parent_id"] = created.Comment.ID
	rr = env.do(http.MethodPost, "/api/v1/comments?slug=hello", reply, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "pending comments cannot be replied to")
}

func TestUpdateCommentStatus_ReleasesModeratedComment(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) { c.Comments.ModerationRequired = true })
	env.seedPost(t, "hello", models.PostStatusPublished)

	rr := env.do(http.MethodPost, "/api/v1/comments?slug=hello", validComment("held"), nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created models.CommentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	path := "/api/v1/admin/comments/" + created.Comment.ID

	rr = env.do(http.MethodPatch, path, map[string]string{"status": "APPROVED"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodPatch, path, map[string]string{"status": "APPROVED"}, adminHeaders)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated models.CommentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, models.CommentStatusApproved, updated.Comment.Status)

	rr = env.do(http.MethodGet, "/api/v1/comments?slug=hello", nil, nil)
	var list models.ListCommentsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Comments, 1)
	assert.Equal(t, created.Comment.ID, list.Comments[0].ID)

	rr = env.do(http.MethodPatch, path, map[string]string{"status": "SPAM"}, adminHeaders)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(http.MethodGet, "/api/v1/comments?slug=hello", nil, nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Empty(t, list.Comments)
}

func TestUpdateCommentStatus_Errors(t *testing.T) {
	env := newTestEnv(t)
	post := env.seedPost(t, "hello", models.PostStatusPublished)
	c := models.NewComment(post.ID, "", "Ada", "ada@example.com", "hi")
	require.NoError(t, env.store.CreateComment(context.Background(), c))
	path := "/api/v1/admin/comments/" + c.ID

	for _, body := range []any{
		map[string]string{"status": "approved"},
		map[string]string{"status": "DELETED"},
		map[string]string{},
	} {
		rr := env.do(http.MethodPatch, path, body, adminHeaders)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, models.ErrorCodeValidation, decodeError(t, rr).Code)
	}

	rr := env.do(http.MethodPatch, path, "{", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrorCodeInvalidRequest, decodeError(t, rr).Code)

	rr = env.do(http.MethodPatch, "/api/v1/admin/comments/missing", map[string]string{"status": "REJECTED"}, adminHeaders)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	stored, err := env.store.GetComment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommentStatusApproved, stored.Status)
}

func TestCreateComment_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "hello", models.PostStatusPublished)
	env.seedPost(t, "draft", models.PostStatusDraft)
	other := env.seedPost(t, "other", models.PostStatusPublished)

	foreign := models.NewComment(other.ID, "", "Bob", "bob@example.com", "elsewhere")
	require.NoError(t, env.store.CreateComment(context.Background(), foreign))

	withParent := validComment("hi")
	withParent["parent_id"] = foreign.ID
	badEmail := validComment("hi")
	badEmail["author_email"] = "nope"

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
	}{
		{"missing slug", "/api/v1/comments", validComment("hi"), http.StatusBadRequest},
		{"unknown post", "/api/v1/comments?slug=missing", validComment("hi"), http.StatusNotFound},
		{"unpublished post", "/api/v1/comments?slug=draft", validComment("hi"), http.StatusBadRequest},
		{"malformed body", "/api/v1/comments?slug=hello", "{", http.StatusBadRequest},
		{"markup only", "/api/v1/comments?slug=hello", validComment("<p></p>"), http.StatusBadRequest},
		{"too long", "/api/v1/comments?slug=hello", validComment(strings.Repeat("x", models.MaxCommentLength+1)), http.StatusBadRequest},
		{"invalid email", "/api/v1/comments?slug=hello", badEmail, http.StatusBadRequest},
		{"parent on another post", "/api/v1/comments?slug=hello", withParent, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestComments_Disabled(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) { c.Comments.Enabled = false })
	env.seedPost(t, "hello", models.PostStatusPublished)

	rr := env.do(http.MethodGet, "/api/v1/comments?slug=hello", nil, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(http.MethodPost, "/api/v1/comments?slug=hello", validComment("hi"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListComments_HidesDraftPosts(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "draft", models.PostStatusDraft)

	rr := env.do(http.MethodGet, "/api/v1/comments?slug=draft", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateComment_ThrottledPerClientIP(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) {
		c.RateLimit.Comment = models.RateLimitPolicy{Window: time.Minute, Max: 2}
	})
	ip := map[string]string{"X-Real-IP": "203.0.113.50"}

	for i := 0; i < 2; i++ {
		rr := env.do(http.MethodPost, "/api/v1/comments?slug=missing", "{", ip)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	}

	rr := env.do(http.MethodPost, "/api/v1/comments?slug=missing", "{", ip)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, decodeError(t, rr).Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = env.do(http.MethodPost, "/api/v1/comments?slug=missing", "{", map[string]string{"X-Real-IP": "203.0.113.51"})
	assert.Equal(t, http.StatusNotFound, rr.Code, "other clients keep their own budget")

	rr = env.do(http.MethodGet, "/api/v1/comments?slug=missing", nil, ip)
	assert.Equal(t, http.StatusNotFound, rr.Code, "reading comments is not throttled")
}
