package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evcraddock/incident-board/internal/user"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d userDoc) toUser() *user.User {
	return &user.User{
		ID:           d.ID,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

// Users stores users in the users collection.
type Users struct {
	coll *mongo.Collection
}

var _ user.Store = (*Users)(nil)

// Create inserts a new user. The unique index on name rejects duplicates.
func (u *Users) Create(ctx context.Context, name, passwordHash string) (*user.User, error) {
	if name == "" {
		return nil, user.ErrNameRequired
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}

	doc := userDoc{
		ID:           id.String(),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := u.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, user.ErrNameTaken
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return doc.toUser(), nil
}

// GetByName returns the user with the exact given name.
func (u *Users) GetByName(ctx context.Context, name string) (*user.User, error) {
	return u.getOne(ctx, bson.M{"name": name})
}

// GetByID returns the user with the given ID.
func (u *Users) GetByID(ctx context.Context, id string) (*user.User, error) {
	return u.getOne(ctx, bson.M{"_id": id})
}

// List returns all users ordered by name.
func (u *Users) List(ctx context.Context) ([]*user.User, error) {
	cur, err := u.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}

	users := make([]*user.User, len(docs))
	for i, d := range docs {
		users[i] = d.toUser()
	}
	return users, nil
}

func (u *Users) getOne(ctx context.Context, filter bson.M) (*user.User, error) {
	var doc userDoc
	err := u.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return doc.toUser(), nil
}
