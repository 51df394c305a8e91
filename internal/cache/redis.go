package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithClock overrides the time source used for envelope timestamps and
// lazy expiry.
func WithClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client for sessions, rate limiting and
// event publishing.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key Key, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Unreadable entries are dropped so the next reader rebuilds them.
		s.client.Del(ctx, key.String())
		return false, nil
	}

	if env.expired(s.now()) {
		if err := s.client.Del(ctx, key.String()).Err(); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := json.Unmarshal(env.Data, dst); err != nil {
		s.client.Del(ctx, key.String())
		return false, nil
	}

	return true, nil
}

// Set implements Store. The TTL is also handed to Redis so memory is
// reclaimed for entries nobody reads again.
func (s *RedisStore) Set(ctx context.Context, key Key, value any, ttl time.Duration) error {
	data, err := wrap(value, ttl, s.now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.client.Set(ctx, key.String(), data, ttl).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	return s.client.Del(ctx, key.String()).Err()
}
