package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evcraddock/incident-board/internal/db"
	"github.com/evcraddock/incident-board/internal/user"
)

// Repository stores posts in SQLite. Likes and comments live in their own
// tables so that liking and commenting are single-row inserts.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a post repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new post owned by authorID.
func (r *Repository) Create(ctx context.Context, authorID, incident, problem string) (*Post, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating post ID: %w", err)
	}

	p := &Post{
		ID:        id.String(),
		UserID:    authorID,
		Incident:  incident,
		Problem:   problem,
		Likes:     []string{},
		Comments:  []Comment{},
		CreatedAt: time.Now().UTC(),
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO posts (id, user_id, incident, problem, created_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.UserID, p.Incident, p.Problem, p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting post: %w", err)
	}

	return p, nil
}

// Get returns a single populated post.
func (r *Repository) Get(ctx context.Context, postID string) (*Post, error) {
	posts, err := r.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return posts[0], nil
}

// ListAll returns all posts in insertion order, populated.
func (r *Repository) ListAll(ctx context.Context) ([]*Post, error) {
	return r.load(ctx, "")
}

// Like adds userID to the post's likes.
func (r *Repository) Like(ctx context.Context, postID, userID string) (*Post, error) {
	err := r.withPost(ctx, postID, func(tx *sql.Tx, _ string) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO post_likes (post_id, user_id, created_at) VALUES (?, ?, ?)",
			postID, userID, time.Now().UTC(),
		)
		if db.IsConstraintViolation(err) {
			return ErrAlreadyLiked
		}
		if err != nil {
			return fmt.Errorf("inserting like: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, postID)
}

// Comment appends a comment by userID to the post.
func (r *Repository) Comment(ctx context.Context, postID, userID, text string) (*Post, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyComment
	}

	err := r.withPost(ctx, postID, func(tx *sql.Tx, _ string) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO comments (post_id, user_id, text, created_at) VALUES (?, ?, ?, ?)",
			postID, userID, text, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("inserting comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, postID)
}

// Delete removes the post if requesterID owns it. Likes and comments
// go with it via ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, postID, requesterID string) error {
	return r.withPost(ctx, postID, func(tx *sql.Tx, ownerID string) error {
		if ownerID != requesterID {
			return ErrForbidden
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", postID); err != nil {
			return fmt.Errorf("deleting post: %w", err)
		}
		return nil
	})
}

// CountByUser returns the number of posts owned by userID.
func (r *Repository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM posts WHERE user_id = ?", userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}
	return n, nil
}

// CountCommentsByUser returns the number of distinct posts carrying at
// least one comment by userID.
func (r *Repository) CountCommentsByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT post_id) FROM comments WHERE user_id = ?", userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting commented posts: %w", err)
	}
	return n, nil
}

// withPost runs fn in a write transaction after confirming the post
// exists. fn receives the post's owner ID.
func (r *Repository) withPost(ctx context.Context, postID string, fn func(tx *sql.Tx, ownerID string) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit is a no-op returning ErrTxDone.
		_ = tx.Rollback()
	}()

	var ownerID string
	err = tx.QueryRowContext(ctx, "SELECT user_id FROM posts WHERE id = ?", postID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading post: %w", err)
	}

	if err := fn(tx, ownerID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// load reads posts (all, or the one with postID) and populates likes,
// comments and authors.
func (r *Repository) load(ctx context.Context, postID string) ([]*Post, error) {
	postQuery := `SELECT p.id, p.user_id, p.incident, p.problem, p.created_at, u.name, u.created_at
		FROM posts p LEFT JOIN users u ON u.id = p.user_id`
	likeQuery := `SELECT post_id, user_id FROM post_likes`
	commentQuery := `SELECT c.post_id, c.user_id, c.text, c.created_at, u.name, u.created_at
		FROM comments c LEFT JOIN users u ON u.id = c.user_id`

	var args []any
	if postID != "" {
		postQuery += " WHERE p.id = ?"
		likeQuery += " WHERE post_id = ?"
		commentQuery += " WHERE c.post_id = ?"
		args = append(args, postID)
	}
	postQuery += " ORDER BY p.rowid"
	likeQuery += " ORDER BY rowid"
	commentQuery += " ORDER BY c.id"

	var posts []*Post
	byID := make(map[string]*Post)

	err := r.scanRows(ctx, postQuery, args, func(rows *sql.Rows) error {
		var p Post
		var authorName sql.NullString
		var authorCreated sql.NullTime
		if err := rows.Scan(&p.ID, &p.UserID, &p.Incident, &p.Problem, &p.CreatedAt, &authorName, &authorCreated); err != nil {
			return fmt.Errorf("scanning post: %w", err)
		}
		p.Likes = []string{}
		p.Comments = []Comment{}
		p.Author = populated(p.UserID, authorName, authorCreated)
		posts = append(posts, &p)
		byID[p.ID] = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}

	err = r.scanRows(ctx, likeQuery, args, func(rows *sql.Rows) error {
		var pid, uid string
		if err := rows.Scan(&pid, &uid); err != nil {
			return fmt.Errorf("scanning like: %w", err)
		}
		if p, ok := byID[pid]; ok {
			p.Likes = append(p.Likes, uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.scanRows(ctx, commentQuery, args, func(rows *sql.Rows) error {
		var pid string
		var c Comment
		var authorName sql.NullString
		var authorCreated sql.NullTime
		if err := rows.Scan(&pid, &c.UserID, &c.Text, &c.CreatedAt, &authorName, &authorCreated); err != nil {
			return fmt.Errorf("scanning comment: %w", err)
		}
		c.Author = populated(c.UserID, authorName, authorCreated)
		if p, ok := byID[pid]; ok {
			p.Comments = append(p.Comments, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return posts, nil
}

func (r *Repository) scanRows(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) (err error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying posts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}
	return nil
}

func populated(id string, name sql.NullString, createdAt sql.NullTime) *user.User {
	if !name.Valid {
		return nil
	}
	return &user.User{ID: id, Name: name.String, CreatedAt: createdAt.Time}
}
