package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inkpost/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		db := stdlib.OpenDBFromPool(pool)
		err := migrate(ctx, db, goose.DialectPostgres, "migrations/postgres")
		db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &PostgresStorage{pool: pool}, nil
}

// Ping verifies the database is reachable.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

const pgKeyColumns = `id, name, key_hash, key_prefix, created_by_id, permissions, enabled,
	expires_at, last_used_at, last_used_ip, created_at, updated_at`

func scanPgKey(row pgx.Row) (*models.APIKey, error) {
	var (
		k     models.APIKey
		perms []byte
	)
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &k.CreatedByID, &perms, &k.Enabled,
		&k.ExpiresAt, &k.LastUsedAt, &k.LastUsedIP, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if k.Permissions, err = unmarshalPermissions(perms); err != nil {
		return nil, err
	}
	k.CreatedAt = k.CreatedAt.UTC()
	k.UpdatedAt = k.UpdatedAt.UTC()
	k.ExpiresAt = utcPtr(k.ExpiresAt)
	k.LastUsedAt = utcPtr(k.LastUsedAt)
	return &k, nil
}

// CreateAPIKey inserts a new API key row.
func (ps *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}
	_, err = ps.pool.Exec(ctx, `INSERT INTO api_keys (`+pgKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, key.CreatedByID, perms, key.Enabled,
		key.ExpiresAt, key.LastUsedAt, key.LastUsedIP, key.CreatedAt, key.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key by ID.
func (ps *PostgresStorage) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	k, err := scanPgKey(ps.pool.QueryRow(ctx, `SELECT `+pgKeyColumns+` FROM api_keys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (ps *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	k, err := scanPgKey(ps.pool.QueryRow(ctx, `SELECT `+pgKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns all API keys, newest first.
func (ps *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+pgKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanPgKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateAPIKey updates an existing API key's mutable fields.
func (ps *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}
	tag, err := ps.pool.Exec(ctx, `UPDATE api_keys
		SET name = $2, permissions = $3::jsonb, enabled = $4, expires_at = $5, updated_at = $6
		WHERE id = $1`,
		key.ID, key.Name, perms, key.Enabled, key.ExpiresAt, key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes an API key by its ID.
func (ps *PostgresStorage) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey records the last use of a key.
func (ps *PostgresStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time, ip string) error {
	tag, err := ps.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2, last_used_ip = $3 WHERE id = $1`,
		id, usedAt, ip)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgPostColumns = `id, slug, title, content, status, views, created_at, updated_at`

func scanPgPost(row pgx.Row) (*models.Post, error) {
	var (
		p      models.Post
		status string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Content, &status, &p.Views, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PostStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ListPosts returns all posts, newest first.
func (ps *PostgresStorage) ListPosts(ctx context.Context) ([]*models.Post, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+pgPostColumns+` FROM posts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := []*models.Post{}
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost retrieves a post by ID.
func (ps *PostgresStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return ps.getPost(ctx, `SELECT `+pgPostColumns+` FROM posts WHERE id = $1`, id)
}

// GetPostBySlug retrieves a post by slug.
func (ps *PostgresStorage) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	return ps.getPost(ctx, `SELECT `+pgPostColumns+` FROM posts WHERE slug = $1`, slug)
}

func (ps *PostgresStorage) getPost(ctx context.Context, query, arg string) (*models.Post, error) {
	p, err := scanPgPost(ps.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// CreatePost inserts a new post.
func (ps *PostgresStorage) CreatePost(ctx context.Context, post *models.Post) error {
	_, err := ps.pool.Exec(ctx, `INSERT INTO posts (`+pgPostColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		post.ID, post.Slug, post.Title, post.Content, string(post.Status), post.Views, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// UpdatePost replaces an existing post's editable fields.
func (ps *PostgresStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	tag, err := ps.pool.Exec(ctx, `UPDATE posts SET slug = $2, title = $3, content = $4, status = $5, updated_at = $6
		WHERE id = $1`,
		post.ID, post.Slug, post.Title, post.Content, string(post.Status), post.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost removes a post by ID.
func (ps *PostgresStorage) DeletePost(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementPostViews adds one view to a post.
func (ps *PostgresStorage) IncrementPostViews(ctx context.Context, id string) (int64, error) {
	var views int64
	err := ps.pool.QueryRow(ctx, `UPDATE posts SET views = views + 1 WHERE id = $1 RETURNING views`, id).Scan(&views)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment post views: %w", err)
	}
	return views, nil
}

const pgCommentColumns = `id, post_id, parent_id, author_name, author_email, content, status, created_at`

func scanPgComment(row pgx.Row) (*models.Comment, error) {
	var (
		c      models.Comment
		status string
	)
	if err := row.Scan(&c.ID, &c.PostID, &c.ParentID, &c.AuthorName, &c.AuthorEmail, &c.Content, &status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CommentStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// CreateComment inserts a comment if its post exists.
func (ps *PostgresStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	tag, err := ps.pool.Exec(ctx, `INSERT INTO comments (`+pgCommentColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8 WHERE EXISTS (SELECT 1 FROM posts WHERE id = $2)`,
		comment.ID, comment.PostID, comment.ParentID, comment.AuthorName, comment.AuthorEmail,
		comment.Content, string(comment.Status), comment.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetComment retrieves a comment by ID.
func (ps *PostgresStorage) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	c, err := scanPgComment(ps.pool.QueryRow(ctx, `SELECT `+pgCommentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

// UpdateCommentStatus sets the moderation state of a comment.
func (ps *PostgresStorage) UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus) (*models.Comment, error) {
	c, err := scanPgComment(ps.pool.QueryRow(ctx, `UPDATE comments SET status = $1 WHERE id = $2
		RETURNING `+pgCommentColumns, string(status), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update comment status: %w", err)
	}
	return c, nil
}

// ListApprovedComments returns a post's approved comments, oldest first.
func (ps *PostgresStorage) ListApprovedComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+pgCommentColumns+` FROM comments
		WHERE post_id = $1 AND status = $2 ORDER BY created_at ASC`, postID, string(models.CommentStatusApproved))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		c, err := scanPgComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
