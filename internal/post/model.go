// Package post provides the post domain model and data access.
package post

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/evcraddock/incident-board/internal/user"
)

var (
	// ErrNotFound is returned when the referenced post does not exist.
	ErrNotFound = errors.New("post not found")
	// ErrForbidden is returned when a non-owner tries to delete a post.
	ErrForbidden = errors.New("not the owner of this post")
	// ErrAlreadyLiked is returned when a user likes the same post twice.
	ErrAlreadyLiked = errors.New("post already liked by user")
	// ErrEmptyComment is returned when a comment has no text.
	ErrEmptyComment = errors.New("comment text is required")
)

// Post is an incident report authored by a user.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Incident  string    `json:"incident"`
	Problem   string    `json:"problem"`
	Likes     []string  `json:"likes"`
	Comments  []Comment `json:"comments"`
	CreatedAt time.Time `json:"created_at"`

	// Author is populated by the store on reads; nil if the user is gone.
	Author *user.User `json:"author,omitempty"`
}

// Comment is a note appended to a post. Comments are never edited.
type Comment struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	Author *user.User `json:"author,omitempty"`
}

// LikedBy reports whether userID is in the post's likes.
func (p *Post) LikedBy(userID string) bool {
	return slices.Contains(p.Likes, userID)
}

// OwnedBy reports whether userID authored the post.
func (p *Post) OwnedBy(userID string) bool {
	return p.UserID == userID
}

// Store is the post store. Like and Comment must be atomic with respect
// to concurrent callers on the same post.
type Store interface {
	Create(ctx context.Context, authorID, incident, problem string) (*Post, error)
	Get(ctx context.Context, postID string) (*Post, error)
	// ListAll returns every post in insertion order with authors and
	// comment authors populated.
	ListAll(ctx context.Context) ([]*Post, error)
	Like(ctx context.Context, postID, userID string) (*Post, error)
	Comment(ctx context.Context, postID, userID, text string) (*Post, error)
	Delete(ctx context.Context, postID, requesterID string) error
	CountByUser(ctx context.Context, userID string) (int, error)
	// CountCommentsByUser counts posts with at least one comment by
	// userID, not the number of comments.
	CountCommentsByUser(ctx context.Context, userID string) (int, error)
}
