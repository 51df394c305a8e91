package cache

import (
	"context"
	"time"

	"github.com/eldtechnologies/rtchat/internal/metrics"
)

// Query caches the result of a load function under a key.
//
// Cache failures never fail a Query: they are reported to OnCacheError and
// the loader result is returned as if the cache had missed.
type Query[T any] struct {
	Store Store
	Key   Key
	TTL   time.Duration
	Load  func(ctx context.Context) (T, error)

	// OnCacheError is called with the failing operation name.
	OnCacheError func(op string, err error)
}

// Remember returns the cached value, running Load and caching its result on
// a miss.
func (q Query[T]) Remember(ctx context.Context) (T, error) {
	var cached T
	found, err := q.Store.Get(ctx, q.Key, &cached)
	if err != nil {
		q.report("get", err)
	}
	if err == nil && found {
		metrics.CacheLookups.WithLabelValues(q.Key.Namespace(), "hit").Inc()
		return cached, nil
	}
	metrics.CacheLookups.WithLabelValues(q.Key.Namespace(), "miss").Inc()
	return q.store(ctx)
}

// Refresh drops the cached value and reloads it.
func (q Query[T]) Refresh(ctx context.Context) (T, error) {
	if err := q.Store.Delete(ctx, q.Key); err != nil {
		q.report("delete", err)
	}
	return q.store(ctx)
}

// Invalidate drops the cached value without reloading it.
func (q Query[T]) Invalidate(ctx context.Context) {
	if err := q.Store.Delete(ctx, q.Key); err != nil {
		q.report("delete", err)
	}
}

func (q Query[T]) store(ctx context.Context) (T, error) {
	value, err := q.Load(ctx)
	if err != nil {
		return value, err
	}
	if err := q.Store.Set(ctx, q.Key, value, q.TTL); err != nil {
		q.report("set", err)
	}
	return value, nil
}

func (q Query[T]) report(op string, err error) {
	metrics.CacheErrors.WithLabelValues(q.Key.Namespace(), op).Inc()
	if q.OnCacheError != nil {
		q.OnCacheError(op, err)
	}
}
