package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKeyMarker is the fixed public prefix every generated credential starts with.
const APIKeyMarker = "eak_"

// apiKeyPrefixLen is the number of leading characters kept for display.
const apiKeyPrefixLen = 8

// Permission is a single scope an API key may hold.
type Permission string

const (
	PermissionPostRead   Permission = "POST_READ"
	PermissionPostCreate Permission = "POST_CREATE"
	PermissionPostUpdate Permission = "POST_UPDATE"
	PermissionPostDelete Permission = "POST_DELETE"
)

// AllPermissions is the closed set of recognised scopes, in display order.
var AllPermissions = []Permission{
	PermissionPostCreate,
	PermissionPostUpdate,
	PermissionPostDelete,
	PermissionPostRead,
}

// Valid reports whether p belongs to the closed permission set.
func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable description shown in the admin UI.
func (p Permission) Label() string {
	switch p {
	case PermissionPostRead:
		return "Read posts"
	case PermissionPostCreate:
		return "Create posts"
	case PermissionPostUpdate:
		return "Update posts"
	case PermissionPostDelete:
		return "Delete posts"
	default:
		return string(p)
	}
}

// NormalizePermissions deduplicates the input and silently drops values that
// are not part of the closed set. Input order is preserved.
func NormalizePermissions[S ~string](input []S) []Permission {
	out := make([]Permission, 0, len(input))
	seen := make(map[Permission]struct{}, len(input))
	for _, raw := range input {
		p := Permission(raw)
		if !p.Valid() {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ParsePermissionsStrict is the non-lenient counterpart of NormalizePermissions:
// any unrecognised value is reported as an error.
func ParsePermissionsStrict(input []string) ([]Permission, error) {
	var unknown []string
	for _, raw := range input {
		if !Permission(raw).Valid() {
			unknown = append(unknown, raw)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown permissions: %s", strings.Join(unknown, ", "))
	}
	return NormalizePermissions(input), nil
}

// HasPermissions reports whether granted contains every permission in
// required. An empty required list is always satisfied.
func HasPermissions(granted []Permission, required ...Permission) bool {
	for _, need := range required {
		found := false
		for _, have := range granted {
			if have == need {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// APIKey represents a stored API key. The raw key value is never persisted;
// only its SHA-256 hex hash and an 8-character display prefix are stored.
type APIKey struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	KeyHash     string       `json:"key_hash"`
	Prefix      string       `json:"prefix"`
	CreatedByID string       `json:"created_by_id,omitempty"`
	Permissions []Permission `json:"permissions"`
	Enabled     bool         `json:"enabled"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time   `json:"last_used_at,omitempty"`
	LastUsedIP  string       `json:"last_used_ip,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewAPIKey creates a new APIKey from a raw key string.
func NewAPIKey(id, name, rawKey string, permissions []Permission) *APIKey {
	now := time.Now().UTC()
	prefix := rawKey
	if len(prefix) > apiKeyPrefixLen {
		prefix = prefix[:apiKeyPrefixLen]
	}
	return &APIKey{
		ID:          id,
		Name:        name,
		KeyHash:     HashAPIKey(rawKey),
		Prefix:      prefix,
		Permissions: NormalizePermissions(permissions),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateAPIKey produces a new random API key in the format eak_<43 url-safe base64 chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32) // 256 bits → 43 unpadded base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyMarker + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// NewKeyID generates a new UUID v4 for use as an APIKey ID.
func NewKeyID() string {
	return uuid.New().String()
}

// IsExpired reports whether the key carries an expiry at or before now.
func (ak *APIKey) IsExpired(now time.Time) bool {
	return ak.ExpiresAt != nil && !ak.ExpiresAt.After(now)
}

// HasPermissions returns true when the key's normalized scopes cover every
// required permission. It does not look at Enabled or ExpiresAt.
func (ak *APIKey) HasPermissions(required ...Permission) bool {
	return HasPermissions(NormalizePermissions(ak.Permissions), required...)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (ak *APIKey) Clone() *APIKey {
	c := *ak
	c.Permissions = append([]Permission(nil), ak.Permissions...)
	if ak.ExpiresAt != nil {
		t := *ak.ExpiresAt
		c.ExpiresAt = &t
	}
	if ak.LastUsedAt != nil {
		t := *ak.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
