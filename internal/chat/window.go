package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/cache"
	"github.com/eldtechnologies/rtchat/internal/models"
)

var (
	windowKey = cache.NewKey("chat", "messages")
	bansKey   = cache.NewKey("chat", "bans")
)

// MessageCache keeps the recent window and the ban table in the cache store.
// The repository stays authoritative; every write rebuilds the affected
// entry before the write returns.
type MessageCache struct {
	window cache.Query[[]models.Message]
	bans   cache.Query[[]models.Ban]
	logger zerolog.Logger
}

// NewMessageCache wires the window (the newest size messages) and the ban
// table to store, both cached for ttl.
func NewMessageCache(repo Repository, store cache.Store, size int, ttl time.Duration, logger zerolog.Logger) *MessageCache {
	c := &MessageCache{logger: logger.With().Str("component", "message_cache").Logger()}

	c.window = cache.Query[[]models.Message]{
		Store: store,
		Key:   windowKey,
		TTL:   ttl,
		Load: func(ctx context.Context) ([]models.Message, error) {
			return repo.FetchRecent(ctx, size)
		},
		OnCacheError: c.cacheError(windowKey),
	}
	c.bans = cache.Query[[]models.Ban]{
		Store: store,
		Key:   bansKey,
		TTL:   ttl,
		Load: func(ctx context.Context) ([]models.Ban, error) {
			return repo.FetchAllBans(ctx)
		},
		OnCacheError: c.cacheError(bansKey),
	}
	return c
}

func (c *MessageCache) cacheError(key cache.Key) func(string, error) {
	return func(op string, err error) {
		c.logger.Warn().Err(err).Str("key", key.String()).Str("op", op).Msg("cache operation failed")
	}
}

// Window returns the recent messages, newest first.
func (c *MessageCache) Window(ctx context.Context) ([]models.Message, error) {
	msgs, err := c.window.Remember(ctx)
	if err != nil {
		return nil, storageError("fetch recent messages", err)
	}
	return msgs, nil
}

// Rebuild reloads the window from the repository. When the reload fails
// the entry stays deleted and the next reader repopulates it.
func (c *MessageCache) Rebuild(ctx context.Context) {
	if _, err := c.window.Refresh(ctx); err != nil {
		c.logger.Error().Err(err).Msg("rebuild message window")
	}
}

// Invalidate drops the window without reloading it.
func (c *MessageCache) Invalidate(ctx context.Context) {
	c.window.Invalidate(ctx)
}

// Bans returns every ban row, expired ones included.
func (c *MessageCache) Bans(ctx context.Context) ([]models.Ban, error) {
	bans, err := c.bans.Remember(ctx)
	if err != nil {
		return nil, storageError("fetch bans", err)
	}
	return bans, nil
}

// RebuildBans reloads the ban table from the repository.
func (c *MessageCache) RebuildBans(ctx context.Context) {
	if _, err := c.bans.Refresh(ctx); err != nil {
		c.logger.Error().Err(err).Msg("rebuild ban cache")
	}
}

// IsBanned reports whether userID has a ban that has not expired at now.
func (c *MessageCache) IsBanned(ctx context.Context, userID uint64, now time.Time) (bool, error) {
	bans, err := c.Bans(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range bans {
		if b.UserID == userID {
			return b.Active(now), nil
		}
	}
	return false, nil
}
