// Package mongostore implements the user and post stores on MongoDB.
// Posts are single documents with embedded likes and comments, so liking
// and commenting are single atomic updates.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultDatabase is the database name used when none is configured.
const DefaultDatabase = "reporting"

const connectTimeout = 10 * time.Second

// Store holds a MongoDB client and the board's collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri, checks the server is reachable and ensures the
// indexes the stores rely on.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Users returns the user store.
func (s *Store) Users() *Users {
	return &Users{coll: s.db.Collection("users")}
}

// Posts returns the post store.
func (s *Store) Posts() *Posts {
	return &Posts{coll: s.db.Collection("posts"), users: s.db.Collection("users")}
}

// Drop removes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("creating users index: %w", err)
	}

	if _, err := s.db.Collection("posts").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "comments.user_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("creating posts indexes: %w", err)
	}
	return nil
}
