package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evcraddock/incident-board/internal/post"
	"github.com/evcraddock/incident-board/internal/user"
)

type commentDoc struct {
	UserID    string    `bson:"user_id"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"created_at"`
}

type postDoc struct {
	ID        string       `bson:"_id"`
	UserID    string       `bson:"user_id"`
	Incident  string       `bson:"incident"`
	Problem   string       `bson:"problem"`
	Likes     []string     `bson:"likes"`
	Comments  []commentDoc `bson:"comments"`
	CreatedAt time.Time    `bson:"created_at"`
}

// Posts stores posts in the posts collection.
type Posts struct {
	coll  *mongo.Collection
	users *mongo.Collection
}

var _ post.Store = (*Posts)(nil)

// insertion order; _id is a UUIDv7 so it breaks created_at ties in order.
var insertionOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// Create inserts a new post owned by authorID.
func (p *Posts) Create(ctx context.Context, authorID, incident, problem string) (*post.Post, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating post ID: %w", err)
	}

	doc := postDoc{
		ID:        id.String(),
		UserID:    authorID,
		Incident:  incident,
		Problem:   problem,
		Likes:     []string{},
		Comments:  []commentDoc{},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := p.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("inserting post: %w", err)
	}
	return toPost(doc), nil
}

// Get returns a single populated post.
func (p *Posts) Get(ctx context.Context, postID string) (*post.Post, error) {
	var doc postDoc
	err := p.coll.FindOne(ctx, bson.M{"_id": postID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, post.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying post: %w", err)
	}

	posts := []*post.Post{toPost(doc)}
	if err := p.populate(ctx, posts); err != nil {
		return nil, err
	}
	return posts[0], nil
}

// ListAll returns all posts in insertion order, populated.
func (p *Posts) ListAll(ctx context.Context) ([]*post.Post, error) {
	cur, err := p.coll.Find(ctx, bson.M{}, options.Find().SetSort(insertionOrder))
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	var docs []postDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding posts: %w", err)
	}

	posts := make([]*post.Post, len(docs))
	for i, d := range docs {
		posts[i] = toPost(d)
	}
	if err := p.populate(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// Like adds userID to the post's likes. The filter only matches when the
// user has not liked the post yet, so concurrent likes cannot double count.
func (p *Posts) Like(ctx context.Context, postID, userID string) (*post.Post, error) {
	res, err := p.coll.UpdateOne(ctx,
		bson.M{"_id": postID, "likes": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"likes": userID}},
	)
	if err != nil {
		return nil, fmt.Errorf("liking post: %w", err)
	}
	if res.MatchedCount == 0 {
		exists, err := p.exists(ctx, postID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, post.ErrNotFound
		}
		return nil, post.ErrAlreadyLiked
	}
	return p.Get(ctx, postID)
}

// Comment appends a comment by userID.
func (p *Posts) Comment(ctx context.Context, postID, userID, text string) (*post.Post, error) {
	if strings.TrimSpace(text) == "" {
		return nil, post.ErrEmptyComment
	}

	c := commentDoc{UserID: userID, Text: text, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	res, err := p.coll.UpdateOne(ctx,
		bson.M{"_id": postID},
		bson.M{"$push": bson.M{"comments": c}},
	)
	if err != nil {
		return nil, fmt.Errorf("commenting on post: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, post.ErrNotFound
	}
	return p.Get(ctx, postID)
}

// Delete removes a post. Only its author may delete it.
func (p *Posts) Delete(ctx context.Context, postID, requesterID string) error {
	var doc struct {
		UserID string `bson:"user_id"`
	}
	err := p.coll.FindOne(ctx, bson.M{"_id": postID},
		options.FindOne().SetProjection(bson.M{"user_id": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return post.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying post: %w", err)
	}
	if doc.UserID != requesterID {
		return post.ErrForbidden
	}

	res, err := p.coll.DeleteOne(ctx, bson.M{"_id": postID, "user_id": requesterID})
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	if res.DeletedCount == 0 {
		return post.ErrNotFound
	}
	return nil
}

// CountByUser returns the number of posts authored by userID.
func (p *Posts) CountByUser(ctx context.Context, userID string) (int, error) {
	n, err := p.coll.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}
	return int(n), nil
}

// CountCommentsByUser returns the number of posts with at least one
// comment by userID.
func (p *Posts) CountCommentsByUser(ctx context.Context, userID string) (int, error) {
	n, err := p.coll.CountDocuments(ctx, bson.M{"comments.user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("counting commented posts: %w", err)
	}
	return int(n), nil
}

func (p *Posts) exists(ctx context.Context, postID string) (bool, error) {
	n, err := p.coll.CountDocuments(ctx, bson.M{"_id": postID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("checking post: %w", err)
	}
	return n > 0, nil
}

// populate resolves post and comment authors with one $in lookup.
func (p *Posts) populate(ctx context.Context, posts []*post.Post) error {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, ps := range posts {
		add(ps.UserID)
		for _, c := range ps.Comments {
			add(c.UserID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	cur, err := p.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"password_hash": 0}),
	)
	if err != nil {
		return fmt.Errorf("loading authors: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return fmt.Errorf("decoding authors: %w", err)
	}

	authors := make(map[string]*user.User, len(docs))
	for _, d := range docs {
		authors[d.ID] = d.toUser()
	}
	for _, ps := range posts {
		ps.Author = authors[ps.UserID]
		for i := range ps.Comments {
			ps.Comments[i].Author = authors[ps.Comments[i].UserID]
		}
	}
	return nil
}

func toPost(d postDoc) *post.Post {
	p := &post.Post{
		ID:        d.ID,
		UserID:    d.UserID,
		Incident:  d.Incident,
		Problem:   d.Problem,
		Likes:     d.Likes,
		Comments:  make([]post.Comment, len(d.Comments)),
		CreatedAt: d.CreatedAt,
	}
	if p.Likes == nil {
		p.Likes = []string{}
	}
	for i, c := range d.Comments {
		p.Comments[i] = post.Comment{UserID: c.UserID, Text: c.Text, CreatedAt: c.CreatedAt}
	}
	return p
}
