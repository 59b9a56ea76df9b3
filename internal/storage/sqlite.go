package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkpost/internal/models"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage on an embedded SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if config.AutoMigrate {
		if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// Ping verifies the database is reachable.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

const sqliteKeyColumns = `id, name, key_hash, key_prefix, created_by_id, permissions, enabled,
	expires_at, last_used_at, last_used_ip, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteKey(row rowScanner) (*models.APIKey, error) {
	var (
		k                    models.APIKey
		perms                string
		enabled              int
		expiresAt, lastUsed  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &k.CreatedByID, &perms, &enabled,
		&expiresAt, &lastUsed, &k.LastUsedIP, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if k.Permissions, err = unmarshalPermissions([]byte(perms)); err != nil {
		return nil, err
	}
	k.Enabled = enabled != 0
	if k.ExpiresAt, err = nullTextToTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if k.LastUsedAt, err = nullTextToTimePtr(lastUsed); err != nil {
		return nil, err
	}
	if k.CreatedAt, err = textToTime(createdAt); err != nil {
		return nil, err
	}
	if k.UpdatedAt, err = textToTime(updatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAPIKey inserts a new API key row.
func (ss *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}
	_, err = ss.db.ExecContext(ctx, `INSERT INTO api_keys (`+sqliteKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, key.CreatedByID, perms, boolToInt(key.Enabled),
		timePtrToNullText(key.ExpiresAt), timePtrToNullText(key.LastUsedAt), key.LastUsedIP,
		timeToText(key.CreatedAt), timeToText(key.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key by ID.
func (ss *SQLiteStorage) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+sqliteKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanSQLiteKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (ss *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+sqliteKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := scanSQLiteKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns all API keys, newest first.
func (ss *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+sqliteKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanSQLiteKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateAPIKey updates an existing API key's mutable fields.
func (ss *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}
	res, err := ss.db.ExecContext(ctx, `UPDATE api_keys
		SET name = ?, permissions = ?, enabled = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		key.Name, perms, boolToInt(key.Enabled), timePtrToNullText(key.ExpiresAt), timeToText(key.UpdatedAt), key.ID,
	)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireAffected(res)
}

// DeleteAPIKey removes an API key by its ID.
func (ss *SQLiteStorage) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(res)
}

// TouchAPIKey records the last use of a key.
func (ss *SQLiteStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time, ip string) error {
	res, err := ss.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ?, last_used_ip = ? WHERE id = ?`,
		timeToText(usedAt), ip, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return requireAffected(res)
}

const sqlitePostColumns = `id, slug, title, content, status, views, created_at, updated_at`

func scanSQLitePost(row rowScanner) (*models.Post, error) {
	var (
		p                    models.Post
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Content, &status, &p.Views, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PostStatus(status)
	var err error
	if p.CreatedAt, err = textToTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = textToTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts returns all posts, newest first.
func (ss *SQLiteStorage) ListPosts(ctx context.Context) ([]*models.Post, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+sqlitePostColumns+` FROM posts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := []*models.Post{}
	for rows.Next() {
		p, err := scanSQLitePost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost retrieves a post by ID.
func (ss *SQLiteStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return ss.getPost(ctx, `SELECT `+sqlitePostColumns+` FROM posts WHERE id = ?`, id)
}

// GetPostBySlug retrieves a post by slug.
func (ss *SQLiteStorage) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	return ss.getPost(ctx, `SELECT `+sqlitePostColumns+` FROM posts WHERE slug = ?`, slug)
}

func (ss *SQLiteStorage) getPost(ctx context.Context, query, arg string) (*models.Post, error) {
	p, err := scanSQLitePost(ss.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// CreatePost inserts a new post.
func (ss *SQLiteStorage) CreatePost(ctx context.Context, post *models.Post) error {
	_, err := ss.db.ExecContext(ctx, `INSERT INTO posts (`+sqlitePostColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Slug, post.Title, post.Content, string(post.Status), post.Views,
		timeToText(post.CreatedAt), timeToText(post.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// UpdatePost replaces an existing post's editable fields.
func (ss *SQLiteStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	res, err := ss.db.ExecContext(ctx, `UPDATE posts SET slug = ?, title = ?, content = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		post.Slug, post.Title, post.Content, string(post.Status), timeToText(post.UpdatedAt), post.ID,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update post: %w", err)
	}
	return requireAffected(res)
}

// DeletePost removes a post by ID.
func (ss *SQLiteStorage) DeletePost(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return requireAffected(res)
}

// IncrementPostViews adds one view to a post.
func (ss *SQLiteStorage) IncrementPostViews(ctx context.Context, id string) (int64, error) {
	var views int64
	err := ss.db.QueryRowContext(ctx, `UPDATE posts SET views = views + 1 WHERE id = ? RETURNING views`, id).Scan(&views)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment post views: %w", err)
	}
	return views, nil
}

const sqliteCommentColumns = `id, post_id, parent_id, author_name, author_email, content, status, created_at`

func scanSQLiteComment(row rowScanner) (*models.Comment, error) {
	var (
		c         models.Comment
		status    string
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.PostID, &c.ParentID, &c.AuthorName, &c.AuthorEmail, &c.Content, &status, &createdAt); err != nil {
		return nil, err
	}
	c.Status = models.CommentStatus(status)
	var err error
	if c.CreatedAt, err = textToTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateComment inserts a comment if its post exists.
func (ss *SQLiteStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	res, err := ss.db.ExecContext(ctx, `INSERT INTO comments (`+sqliteCommentColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM posts WHERE id = ?)`,
		comment.ID, comment.PostID, comment.ParentID, comment.AuthorName, comment.AuthorEmail,
		comment.Content, string(comment.Status), timeToText(comment.CreatedAt), comment.PostID,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create comment: %w", err)
	}
	return requireAffected(res)
}

// GetComment retrieves a comment by ID.
func (ss *SQLiteStorage) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	c, err := scanSQLiteComment(ss.db.QueryRowContext(ctx, `SELECT `+sqliteCommentColumns+` FROM comments WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

// UpdateCommentStatus sets the moderation state of a comment.
func (ss *SQLiteStorage) UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus) (*models.Comment, error) {
	c, err := scanSQLiteComment(ss.db.QueryRowContext(ctx, `UPDATE comments SET status = ? WHERE id = ?
		RETURNING `+sqliteCommentColumns, string(status), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update comment status: %w", err)
	}
	return c, nil
}

// ListApprovedComments returns a post's approved comments, oldest first.
func (ss *SQLiteStorage) ListApprovedComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+sqliteCommentColumns+` FROM comments
		WHERE post_id = ? AND status = ? ORDER BY created_at ASC`, postID, string(models.CommentStatusApproved))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		c, err := scanSQLiteComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isSQLiteUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
