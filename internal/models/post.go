package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostStatus is the publication state of a post.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "DRAFT"
	PostStatusPublished PostStatus = "PUBLISHED"
)

// MaxSlugLength bounds slugs accepted by the public view counter.
const MaxSlugLength = 200

// Post is the content resource guarded by the POST_* permissions.
type Post struct {
	ID        string     `json:"id"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Status    PostStatus `json:"status"`
	Views     int64      `json:"views"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewPost builds a draft post with a fresh ID and timestamps.
func NewPost(slug, title, content string) *Post {
	now := time.Now().UTC()
	return &Post{
		ID:        uuid.New().String(),
		Slug:      strings.TrimSpace(slug),
		Title:     strings.TrimSpace(title),
		Content:   content,
		Status:    PostStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields required before a post is persisted.
func (p *Post) Validate() error {
	if p.Slug == "" {
		return errors.New("slug is required")
	}
	if len(p.Slug) > MaxSlugLength {
		return errors.New("slug is too long")
	}
	if p.Title == "" {
		return errors.New("title is required")
	}
	switch p.Status {
	case PostStatusDraft, PostStatusPublished:
	default:
		return errors.New("status must be DRAFT or PUBLISHED")
	}
	return nil
}

// IsPublished reports whether the post is publicly visible.
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished
}
