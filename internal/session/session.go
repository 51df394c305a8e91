// Package session maps forum session tokens to user ids in Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/rtchat/internal/cache"
)

// DefaultTTL is how long a session stays valid without being refreshed.
const DefaultTTL = 24 * time.Hour

// Store keeps sessions in Redis under rtchat:session:<token>.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a session store. ttl <= 0 uses DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(token string) string {
	return cache.NewKey("session", token).String()
}

// Create opens a session for userID and returns its token.
func (s *Store) Create(ctx context.Context, userID uint64) (string, error) {
	token := uuid.New().String()
	if err := s.client.Set(ctx, key(token), strconv.FormatUint(userID, 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Resolve returns the user id for token. found is false for unknown,
// expired or malformed tokens.
func (s *Store) Resolve(ctx context.Context, token string) (userID uint64, found bool, err error) {
	if _, err := uuid.Parse(token); err != nil {
		return 0, false, nil
	}

	val, err := s.client.Get(ctx, key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}

	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// Revoke ends the session.
func (s *Store) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, key(token)).Err()
}
