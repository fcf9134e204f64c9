package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "ib:session:"

// RedisSessionStore keeps sessions in Redis, one string key per token.
// Expiry is delegated to Redis key TTLs.
type RedisSessionStore struct {
	rdb *redis.Client
}

var _ SessionBackend = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

// OpenRedis parses a redis:// URL and checks the server is reachable.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// Create stores a new session.
func (s *RedisSessionStore) Create(ctx context.Context, token, userID string, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.rdb.Set(ctx, redisSessionPrefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// UserID looks up the user bound to token.
func (s *RedisSessionStore) UserID(ctx context.Context, token string) (string, error) {
	userID, err := s.rdb.Get(ctx, redisSessionPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying session: %w", err)
	}
	return userID, nil
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, redisSessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
