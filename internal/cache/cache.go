// Package cache is the key-value layer the chat keeps its derived views in.
//
// Entries are wrapped in an envelope that records when they were written and
// for how long they stay valid. Expiry is checked lazily on read: an entry
// older than its TTL is deleted and reported as a miss. A TTL of zero means
// the entry never expires and must be deleted explicitly.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

const keyPrefix = "rtchat"

// Key is a namespaced cache key. Build keys with NewKey rather than by
// concatenating strings at call sites.
type Key struct {
	namespace string
	name      string
}

// NewKey returns the key for name inside namespace.
func NewKey(namespace, name string) Key {
	return Key{namespace: namespace, name: name}
}

// Namespace returns the namespace part of the key.
func (k Key) Namespace() string {
	return k.namespace
}

// String renders the key as stored in the backing engine.
func (k Key) String() string {
	return keyPrefix + ":" + k.namespace + ":" + k.name
}

// Store is the contract the chat needs from a cache engine.
type Store interface {
	// Get decodes the entry under key into dst. found is false on a miss or
	// when the entry has expired.
	Get(ctx context.Context, key Key, dst any) (found bool, err error)
	// Set stores value under key. ttl == 0 means never expire.
	Set(ctx context.Context, key Key, value any, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
}

// envelope is the stored form of every cached value.
type envelope struct {
	CachedAt int64           `json:"cached_at"`
	TTL      int64           `json:"ttl"` // seconds, 0 = never
	Data     json.RawMessage `json:"data"`
}

func (e envelope) expired(now time.Time) bool {
	return e.TTL > 0 && now.Unix()-e.CachedAt > e.TTL
}

func wrap(value any, ttl time.Duration, now time.Time) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		CachedAt: now.Unix(),
		TTL:      int64(ttl / time.Second),
		Data:     data,
	})
}
