package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"inkpost/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu           sync.RWMutex
	apiKeys      map[string]*models.APIKey // keyed by ID
	apiKeyHashes map[string]string         // hash -> ID
	posts        map[string]*models.Post   // keyed by ID
	postSlugs    map[string]string         // slug -> ID
	comments     map[string]*models.Comment
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		apiKeys:      make(map[string]*models.APIKey),
		apiKeyHashes: make(map[string]string),
		posts:        make(map[string]*models.Post),
		postSlugs:    make(map[string]string),
		comments:     make(map[string]*models.Comment),
	}, nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close closes the storage connection and cleans up resources
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.apiKeys = make(map[string]*models.APIKey)
	m.apiKeyHashes = make(map[string]string)
	m.posts = make(map[string]*models.Post)
	m.postSlugs = make(map[string]string)
	m.comments = make(map[string]*models.Comment)

	return nil
}

// CreateAPIKey stores a new API key in memory.
func (m *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apiKeys[key.ID]; exists {
		return ErrConflict
	}
	if _, exists := m.apiKeyHashes[key.KeyHash]; exists {
		return ErrConflict
	}
	m.apiKeys[key.ID] = key.Clone()
	m.apiKeyHashes[key.KeyHash] = key.ID
	return nil
}

// GetAPIKey retrieves an API key by ID.
func (m *MemoryStorage) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return k.Clone(), nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
// Returns ErrNotFound if no matching key exists.
func (m *MemoryStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.apiKeyHashes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return m.apiKeys[id].Clone(), nil
}

// ListAPIKeys returns all API keys (both enabled and disabled), newest first.
func (m *MemoryStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		out = append(out, k.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.apiKeys[key.ID]
	if !ok {
		return ErrNotFound
	}
	updated := existing.Clone()
	updated.Name = key.Name
	updated.Permissions = append([]models.Permission(nil), key.Permissions...)
	updated.Enabled = key.Enabled
	updated.ExpiresAt = nil
	if key.ExpiresAt != nil {
		t := *key.ExpiresAt
		updated.ExpiresAt = &t
	}
	updated.UpdatedAt = key.UpdatedAt
	m.apiKeys[key.ID] = updated
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.apiKeyHashes, k.KeyHash)
	delete(m.apiKeys, id)
	return nil
}

// TouchAPIKey records the last use of a key.
func (m *MemoryStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	t := usedAt
	k.LastUsedAt = &t
	k.LastUsedIP = ip
	return nil
}

// ListPosts returns all posts, newest first.
func (m *MemoryStorage) ListPosts(ctx context.Context) ([]*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	return out, nil
}

// GetPost retrieves a post by ID.
func (m *MemoryStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetPostBySlug retrieves a post by slug.
func (m *MemoryStorage) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.postSlugs[slug]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m.posts[id]
	return &c, nil
}

// CreatePost stores a new post.
func (m *MemoryStorage) CreatePost(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.posts[post.ID]; exists {
		return ErrConflict
	}
	if _, exists := m.postSlugs[post.Slug]; exists {
		return ErrConflict
	}
	c := *post
	m.posts[post.ID] = &c
	m.postSlugs[post.Slug] = post.ID
	return nil
}

// UpdatePost replaces an existing post, keeping its view count.
func (m *MemoryStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.posts[post.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Slug != post.Slug {
		if _, taken := m.postSlugs[post.Slug]; taken {
			return ErrConflict
		}
		delete(m.postSlugs, existing.Slug)
		m.postSlugs[post.Slug] = post.ID
	}
	c := *post
	c.Views = existing.Views
	c.CreatedAt = existing.CreatedAt
	m.posts[post.ID] = &c
	return nil
}

// DeletePost removes a post by ID.
func (m *MemoryStorage) DeletePost(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.postSlugs, p.Slug)
	delete(m.posts, id)
	for cid, c := range m.comments {
		if c.PostID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

// IncrementPostViews adds one view to a post.
func (m *MemoryStorage) IncrementPostViews(ctx context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.Views++
	return p.Views, nil
}

// CreateComment stores a new comment on an existing post.
func (m *MemoryStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[comment.PostID]; !ok {
		return ErrNotFound
	}
	if _, exists := m.comments[comment.ID]; exists {
		return ErrConflict
	}
	c := *comment
	m.comments[comment.ID] = &c
	return nil
}

// GetComment retrieves a comment by ID.
func (m *MemoryStorage) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

// UpdateCommentStatus sets the moderation state of a comment.
func (m *MemoryStorage) UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Status = status
	out := *c
	return &out, nil
}

// ListApprovedComments returns a post's approved comments, oldest first.
func (m *MemoryStorage) ListApprovedComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Comment{}
	for _, c := range m.comments {
		if c.PostID == postID && c.IsApproved() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
