package storage

import (
	"context"
	"time"

	"inkpost/internal/models"
)

// KeyStore persists API keys. Keys are only ever looked up by ID or by the
// SHA-256 hash of the raw credential, never by raw value or prefix.
type KeyStore interface {
	// CreateAPIKey stores a new key. Returns ErrConflict if the ID or hash exists.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKey retrieves a key by ID.
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)

	// GetAPIKeyByHash retrieves a key by the hash of its raw value.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// ListAPIKeys returns every key, newest first.
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey replaces the mutable fields (name, permissions, enabled, expiry).
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey permanently removes a key.
	DeleteAPIKey(ctx context.Context, id string) error

	// TouchAPIKey records the last successful use of a key.
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time, ip string) error
}

// PostStore persists posts.
type PostStore interface {
	// ListPosts returns every post, newest first.
	ListPosts(ctx context.Context) ([]*models.Post, error)

	GetPost(ctx context.Context, id string) (*models.Post, error)

	GetPostBySlug(ctx context.Context, slug string) (*models.Post, error)

	// CreatePost stores a new post. Returns ErrConflict on a duplicate slug.
	CreatePost(ctx context.Context, post *models.Post) error

	UpdatePost(ctx context.Context, post *models.Post) error

	DeletePost(ctx context.Context, id string) error

	// IncrementPostViews adds one view and returns the new total.
	IncrementPostViews(ctx context.Context, id string) (int64, error)
}

// CommentStore persists post comments.
type CommentStore interface {
	// CreateComment stores a new comment. Returns ErrNotFound if the post does not exist.
	CreateComment(ctx context.Context, comment *models.Comment) error

	// GetComment retrieves a comment by ID.
	GetComment(ctx context.Context, id string) (*models.Comment, error)

	// ListApprovedComments returns the approved comments of a post, oldest first.
	ListApprovedComments(ctx context.Context, postID string) ([]*models.Comment, error)

	// UpdateCommentStatus moves a comment to a new moderation state and
	// returns the updated comment.
	UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus) (*models.Comment, error)
}

// Storage is the full persistence contract implemented by every backend.
type Storage interface {
	KeyStore
	PostStore
	CommentStore

	// Ping verifies the storage backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// AutoMigrate applies the embedded schema migrations on open.
	AutoMigrate bool
}
