package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"inkpost/internal/auth"
	"inkpost/internal/models"
	"inkpost/internal/storage"

	"github.com/gorilla/mux"
)

type viewRequest struct {
	Slug string `json:"slug"`
}

// RecordView handles POST /api/v1/posts/views
// Throttling is applied by the route; rate limit headers are already set.
func (h *Handlers) RecordView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	// A malformed body is treated like a missing slug.
	_ = decodeJSON(r, &req)
	slug := strings.TrimSpace(req.Slug)

	if slug == "" || len(slug) > models.MaxSlugLength {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "invalid slug")
		return
	}

	post, err := h.storage.GetPostBySlug(r.Context(), slug)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Error("Failed to look up post", "slug", slug, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to record view")
		return
	}
	if post == nil || !post.IsPublished() {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "post not found")
		return
	}

	count, err := h.storage.IncrementPostViews(r.Context(), post.ID)
	if err != nil {
		slog.Error("Failed to increment post views", "post_id", post.ID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to record view")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.ViewCountResponse{Count: count})
}

// createPostRequest is the request body for POST /api/v1/open/posts.
type createPostRequest struct {
	Slug    string            `json:"slug"`
	Title   string            `json:"title"`
	Content string            `json:"content"`
	Status  models.PostStatus `json:"status"`
}

// updatePostRequest is the request body for PATCH /api/v1/open/posts/{id}.
// All fields are optional.
type updatePostRequest struct {
	Slug    *string            `json:"slug"`
	Title   *string            `json:"title"`
	Content *string            `json:"content"`
	Status  *models.PostStatus `json:"status"`
}

// ListPosts handles GET /api/v1/open/posts
func (h *Handlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.storage.ListPosts(r.Context())
	if err != nil {
		slog.Error("Failed to list posts", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list posts")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.ListPostsResponse{Posts: posts, TotalCount: len(posts)})
}

// GetPost handles GET /api/v1/open/posts/{id}
func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.storage.GetPost(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStorageError(w, err, "post")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, post)
}

// CreatePost handles POST /api/v1/open/posts
func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	post := models.NewPost(req.Slug, req.Title, req.Content)
	if req.Status != "" {
		post.Status = req.Status
	}
	if err := post.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	if err := h.storage.CreatePost(r.Context(), post); err != nil {
		h.writeStorageError(w, err, "post")
		return
	}

	slog.Info("Post created", "post_id", post.ID, "slug", post.Slug, "actor_key_id", actorKeyID(r))
	h.writeJSONResponse(w, http.StatusCreated, post)
}

// UpdatePost handles PATCH /api/v1/open/posts/{id}
func (h *Handlers) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req updatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	post, err := h.storage.GetPost(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStorageError(w, err, "post")
		return
	}

	if req.Slug != nil {
		post.Slug = strings.TrimSpace(*req.Slug)
	}
	if req.Title != nil {
		post.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		post.Content = *req.Content
	}
	if req.Status != nil {
		post.Status = *req.Status
	}
	if err := post.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}
	post.UpdatedAt = h.now().UTC()

	if err := h.storage.UpdatePost(r.Context(), post); err != nil {
		h.writeStorageError(w, err, "post")
		return
	}

	slog.Info("Post updated", "post_id", post.ID, "actor_key_id", actorKeyID(r))
	h.writeJSONResponse(w, http.StatusOK, post)
}

// DeletePost handles DELETE /api/v1/open/posts/{id}
func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.storage.DeletePost(r.Context(), id); err != nil {
		h.writeStorageError(w, err, "post")
		return
	}

	slog.Info("Post deleted", "post_id", id, "actor_key_id", actorKeyID(r))
	w.WriteHeader(http.StatusNoContent)
}

// writeStorageError maps storage sentinel errors onto HTTP responses.
func (h *Handlers) writeStorageError(w http.ResponseWriter, err error, resource string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, resource+" not found")
	case errors.Is(err, storage.ErrConflict):
		h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, resource+" already exists")
	default:
		slog.Error("Storage operation failed", "resource", resource, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "internal error")
	}
}

// actorKeyID extracts the ID of the authenticated key making this request.
func actorKeyID(r *http.Request) string {
	if k, ok := auth.APIKeyFromContext(r.Context()); ok {
		return k.ID
	}
	return "unknown"
}
