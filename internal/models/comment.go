package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// CommentStatus is the moderation state of a comment.
type CommentStatus string

const (
	CommentStatusPending  CommentStatus = "PENDING"
	CommentStatusApproved CommentStatus = "APPROVED"
	CommentStatusSpam     CommentStatus = "SPAM"
	CommentStatusRejected CommentStatus = "REJECTED"
)

// Valid reports whether s is a known moderation state.
func (s CommentStatus) Valid() bool {
	switch s {
	case CommentStatusPending, CommentStatusApproved, CommentStatusSpam, CommentStatusRejected:
		return true
	}
	return false
}

// Limits on guest comment fields, counted in characters.
const (
	MaxCommentLength     = 1000
	MaxCommentNameLength = 50
	MaxCommentMailLength = 100
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Comment is a guest comment attached to a post.
type Comment struct {
	ID          string        `json:"id"`
	PostID      string        `json:"post_id"`
	ParentID    string        `json:"parent_id,omitempty"`
	AuthorName  string        `json:"author_name"`
	AuthorEmail string        `json:"-"`
	Content     string        `json:"content"`
	Status      CommentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewComment builds a comment with a fresh ID. Content is stripped of markup
// and the author fields are trimmed; call Validate before persisting.
func NewComment(postID, parentID, name, email, content string) *Comment {
	return &Comment{
		ID:          uuid.New().String(),
		PostID:      postID,
		ParentID:    strings.TrimSpace(parentID),
		AuthorName:  strings.TrimSpace(name),
		AuthorEmail: strings.TrimSpace(email),
		Content:     SanitizeCommentContent(content),
		Status:      CommentStatusApproved,
		CreatedAt:   time.Now().UTC(),
	}
}

// SanitizeCommentContent removes every HTML tag, leaving plain text.
func SanitizeCommentContent(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

// Validate checks content and guest author fields.
func (c *Comment) Validate() error {
	if c.Content == "" {
		return errors.New("content is required")
	}
	if utf8.RuneCountInString(c.Content) > MaxCommentLength {
		return errors.New("content is too long")
	}
	if c.AuthorName == "" || c.AuthorEmail == "" {
		return errors.New("name and email are required")
	}
	if !emailPattern.MatchString(c.AuthorEmail) {
		return errors.New("email is invalid")
	}
	if utf8.RuneCountInString(c.AuthorName) > MaxCommentNameLength ||
		utf8.RuneCountInString(c.AuthorEmail) > MaxCommentMailLength {
		return errors.New("name or email is too long")
	}
	if !c.Status.Valid() {
		return errors.New("status must be one of APPROVED, PENDING, SPAM, REJECTED")
	}
	return nil
}

// IsApproved reports whether the comment is publicly visible.
func (c *Comment) IsApproved() bool {
	return c.Status == CommentStatusApproved
}
