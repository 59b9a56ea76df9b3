package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"inkpost/internal/models"
	"inkpost/internal/storage"

	"github.com/gorilla/mux"
)

type createCommentRequest struct {
	Content     string `json:"content"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	ParentID    string `json:"parent_id"`
}

type updateCommentStatusRequest struct {
	Status models.CommentStatus `json:"status"`
}

// ListComments handles GET /api/v1/comments?slug=
func (h *Handlers) ListComments(w http.ResponseWriter, r *http.Request) {
	post, ok := h.commentTarget(w, r)
	if !ok {
		return
	}
	if !post.IsPublished() {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "post not found")
		return
	}

	comments, err := h.storage.ListApprovedComments(r.Context(), post.ID)
	if err != nil {
		slog.Error("Failed to list comments", "post_id", post.ID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list comments")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.ListCommentsResponse{Comments: comments})
}

// CreateComment handles POST /api/v1/comments?slug=
// Throttling is applied by the route before the body is read.
func (h *Handlers) CreateComment(w http.ResponseWriter, r *http.Request) {
	post, ok := h.commentTarget(w, r)
	if !ok {
		return
	}
	if !post.IsPublished() {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "post is not published")
		return
	}

	var req createCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	comment := models.NewComment(post.ID, req.ParentID, req.AuthorName, req.AuthorEmail, req.Content)
	if h.comments.ModerationRequired {
		comment.Status = models.CommentStatusPending
	}
	if err := comment.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	if comment.ParentID != "" {
		parent, err := h.storage.GetComment(r.Context(), comment.ParentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.writeStorageError(w, err, "comment")
			return
		}
		if parent == nil || parent.PostID != post.ID || !parent.IsApproved() {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "reply target does not exist or is not approved")
			return
		}
	}

	if err := h.storage.CreateComment(r.Context(), comment); err != nil {
		h.writeStorageError(w, err, "comment")
		return
	}

	slog.Info("Comment created",
		"comment_id", comment.ID,
		"post_id", post.ID,
		"status", comment.Status,
	)
	h.writeJSONResponse(w, http.StatusCreated, models.CommentResponse{Comment: comment})
}

// UpdateCommentStatus handles PATCH /api/v1/admin/comments/{id}
func (h *Handlers) UpdateCommentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateCommentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "status must be one of APPROVED, PENDING, SPAM, REJECTED")
		return
	}

	comment, err := h.storage.UpdateCommentStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeStorageError(w, err, "comment")
		return
	}

	admin, _ := AdminFromContext(r.Context())
	slog.Info("Comment moderated",
		"comment_id", comment.ID,
		"post_id", comment.PostID,
		"status", comment.Status,
		"admin", admin,
	)
	h.writeJSONResponse(w, http.StatusOK, models.CommentResponse{Comment: comment})
}

// commentTarget resolves the post named by the slug query parameter and
// writes the error response itself when it cannot.
func (h *Handlers) commentTarget(w http.ResponseWriter, r *http.Request) (*models.Post, bool) {
	slug := strings.TrimSpace(r.URL.Query().Get("slug"))
	if slug == "" || len(slug) > models.MaxSlugLength {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "invalid slug")
		return nil, false
	}
	if !h.comments.Enabled {
		h.writeErrorResponse(w, http.StatusForbidden, models.ErrorCodeForbidden, "comments are disabled")
		return nil, false
	}

	post, err := h.storage.GetPostBySlug(r.Context(), slug)
	if err != nil {
		h.writeStorageError(w, err, "post")
		return nil, false
	}
	return post, true
}
