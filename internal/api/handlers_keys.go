package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/storage"

	"github.com/gorilla/mux"
)

// createAPIKeyRequest is the request body for POST /api/v1/admin/keys.
type createAPIKeyRequest struct {
	Name        string          `json:"name"`
	Permissions []string        `json:"permissions"`
	Enabled     *bool           `json:"enabled"`
	ExpiresAt   json.RawMessage `json:"expires_at"`
}

// createAPIKeyResponse includes the raw key, returned exactly once.
type createAPIKeyResponse struct {
	apiKeyResponse
	Key string `json:"key"`
}

// apiKeyResponse is the metadata-only view (no raw key, no hash).
type apiKeyResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Prefix      string              `json:"prefix"`
	CreatedBy   string              `json:"created_by"`
	Permissions []models.Permission `json:"permissions"`
	Enabled     bool                `json:"enabled"`
	ExpiresAt   *time.Time          `json:"expires_at"`
	LastUsedAt  *time.Time          `json:"last_used_at"`
	LastUsedIP  string              `json:"last_used_ip,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// updateAPIKeyRequest is the request body for PATCH /api/v1/admin/keys/{id}.
// All fields are optional. A permissions array, even an empty one, replaces
// the stored set. expires_at set to null or "" clears the expiry.
type updateAPIKeyRequest struct {
	Name        *string         `json:"name"`
	Permissions *[]string       `json:"permissions"`
	Enabled     *bool           `json:"enabled"`
	ExpiresAt   json.RawMessage `json:"expires_at"`
}

func apiKeyToResponse(k *models.APIKey) apiKeyResponse {
	perms := k.Permissions
	if perms == nil {
		perms = []models.Permission{}
	}
	return apiKeyResponse{
		ID:          k.ID,
		Name:        k.Name,
		Prefix:      k.Prefix,
		CreatedBy:   k.CreatedByID,
		Permissions: perms,
		Enabled:     k.Enabled,
		ExpiresAt:   k.ExpiresAt,
		LastUsedAt:  k.LastUsedAt,
		LastUsedIP:  k.LastUsedIP,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
	}
}

// parseExpiry interprets an expires_at field. It reports set=false when the
// field was absent, and a nil time when it was null or empty.
func parseExpiry(raw json.RawMessage, now time.Time) (expiresAt *time.Time, set bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if string(raw) == "null" {
		return nil, true, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, true, errors.New("expires_at must be an RFC3339 timestamp")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, true, errors.New("expires_at must be an RFC3339 timestamp")
	}
	if !t.After(now) {
		return nil, true, errors.New("expires_at must be in the future")
	}
	t = t.UTC()
	return &t, true, nil
}

// ListAPIKeys handles GET /api/v1/admin/keys
func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		slog.Error("Failed to list API keys", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list keys")
		return
	}
	resp := make([]apiKeyResponse, len(keys))
	for i, k := range keys {
		resp[i] = apiKeyToResponse(k)
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateAPIKey handles POST /api/v1/admin/keys
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	now := h.now().UTC()
	expiresAt, _, err := parseExpiry(req.ExpiresAt, now)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("API Key %s", now.Format(time.RFC3339))
	}

	perms := models.NormalizePermissions(req.Permissions)
	if len(perms) == 0 {
		perms = []models.Permission{models.PermissionPostRead}
	}

	rawKey, err := models.GenerateAPIKey()
	if err != nil {
		slog.Error("Failed to generate API key", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to generate key")
		return
	}

	key := models.NewAPIKey(models.NewKeyID(), name, rawKey, perms)
	key.CreatedByID, _ = AdminFromContext(r.Context())
	key.ExpiresAt = expiresAt
	key.CreatedAt = now
	key.UpdatedAt = now
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}

	if err := h.storage.CreateAPIKey(r.Context(), key); err != nil {
		slog.Error("Failed to create API key", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to create key")
		return
	}

	slog.Info("api key created",
		"event", "security_audit",
		"action", "create",
		"key_id", key.ID,
		"key_name", key.Name,
		"created_by", key.CreatedByID,
		"permissions", key.Permissions,
	)

	h.writeJSONResponse(w, http.StatusCreated, createAPIKeyResponse{
		apiKeyResponse: apiKeyToResponse(key),
		Key:            rawKey,
	})
}

// UpdateAPIKey handles PATCH /api/v1/admin/keys/{id}
func (h *Handlers) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	now := h.now().UTC()
	expiresAt, expirySet, err := parseExpiry(req.ExpiresAt, now)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	key, err := h.storage.GetAPIKey(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, err, "key")
		return
	}

	if req.Name != nil {
		if name := strings.TrimSpace(*req.Name); name != "" {
			key.Name = name
		}
	}
	if req.Permissions != nil {
		key.Permissions = models.NormalizePermissions(*req.Permissions)
	}
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}
	if expirySet {
		key.ExpiresAt = expiresAt
	}
	key.UpdatedAt = now

	if err := h.storage.UpdateAPIKey(r.Context(), key); err != nil {
		h.writeStorageError(w, err, "key")
		return
	}

	slog.Info("api key updated",
		"event", "security_audit",
		"action", "update",
		"key_id", key.ID,
		"key_name", key.Name,
		"enabled", key.Enabled,
	)

	h.writeJSONResponse(w, http.StatusOK, apiKeyToResponse(key))
}

// DeleteAPIKey handles DELETE /api/v1/admin/keys/{id}
func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.storage.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "key not found")
		} else {
			slog.Error("Failed to delete API key", "key_id", id, "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to delete key")
		}
		return
	}

	slog.Info("api key deleted",
		"event", "security_audit",
		"action", "delete",
		"key_id", id,
	)

	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/admin/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keys, err := h.storage.ListAPIKeys(ctx)
	if err != nil {
		slog.Error("Failed to list API keys for stats", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to compute stats")
		return
	}
	posts, err := h.storage.ListPosts(ctx)
	if err != nil {
		slog.Error("Failed to list posts for stats", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to compute stats")
		return
	}

	now := h.now().UTC()
	resp := models.StatsResponse{Posts: len(posts), GeneratedAt: now}
	for _, k := range keys {
		resp.APIKeys.Total++
		switch {
		case k.IsExpired(now):
			resp.APIKeys.Expired++
		case k.Enabled:
			resp.APIKeys.Enabled++
		default:
			resp.APIKeys.Disabled++
		}
	}

	if h.limiter != nil {
		n, err := h.limiter.Store().Len(ctx)
		if err != nil {
			slog.Warn("Failed to count rate limit buckets", "error", err)
		}
		resp.RateBuckets = n
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}
