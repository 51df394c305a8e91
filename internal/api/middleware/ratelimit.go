package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/cache"
	"github.com/eldtechnologies/rtchat/internal/metrics"
)

const (
	// blockAfter violations within violationWindow block the address for blockFor.
	blockAfter      = 10
	violationWindow = time.Hour
	blockFor        = 24 * time.Hour
)

// route is the limit for every request whose method matches and whose path
// starts with prefix.
type route struct {
	method   string
	prefix   string
	requests int
	window   time.Duration
	subject  func(r *http.Request) string
}

// chatRoutes are matched longest prefix first, so the history endpoint gets
// its own budget instead of sharing the message list's.
var chatRoutes = []route{
	{http.MethodGet, "/chat/messages", 120, time.Minute, userOrAddr},
	{http.MethodGet, "/chat/messages/history", 60, time.Minute, userOrAddr},
	{http.MethodPost, "/chat/messages", 30, time.Minute, userOrAddr},
	{http.MethodPut, "/chat/messages/", 30, time.Minute, userOrAddr},
	{http.MethodDelete, "/chat/messages/", 30, time.Minute, userOrAddr},
	{http.MethodGet, "/chat/statistics", 30, time.Minute, addrOnly},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block addresses after repeated violations
}

// RateLimiter enforces per-user or per-address sliding windows in Redis.
type RateLimiter struct {
	client    *redis.Client
	routes    []route
	exempt    []netip.Prefix
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates the limiter for the chat routes. Whitelist entries
// that do not parse are logged and skipped.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		routes:    append([]route(nil), chatRoutes...),
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
	}
	sort.SliceStable(rl.routes, func(i, j int) bool {
		return len(rl.routes[i].prefix) > len(rl.routes[j].prefix)
	})

	for _, entry := range cfg.Whitelist {
		prefix, err := parseExempt(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid rate limit whitelist entry")
			continue
		}
		rl.exempt = append(rl.exempt, prefix)
	}
	if len(rl.exempt) > 0 {
		logger.Info().Int("entries", len(rl.exempt)).Msg("rate limit whitelist configured")
	}
	return rl
}

func parseExempt(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) isExempt(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range rl.exempt {
		if p.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// match returns the route limiting r, or nil when r is not limited.
func (rl *RateLimiter) match(r *http.Request) *route {
	for i := range rl.routes {
		rt := &rl.routes[i]
		if rt.method == r.Method && strings.HasPrefix(r.URL.Path, rt.prefix) {
			return rt
		}
	}
	return nil
}

// clientAddr is the caller's address. chi's RealIP middleware runs earlier
// and has already folded proxy headers into RemoteAddr.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func addrOnly(r *http.Request) string {
	return "ip:" + clientAddr(r)
}

// userOrAddr limits signed-in users by account so a shared address does not
// throttle a whole office.
func userOrAddr(r *http.Request) string {
	if user := GetUserFromContext(r.Context()); user != nil {
		return "user:" + strconv.FormatUint(user.ID, 10)
	}
	return addrOnly(r)
}

// quota is the outcome of one rate limit check.
type quota struct {
	allowed   bool
	remaining int
	reset     time.Time
}

// take records one request against key and reports whether it fits in the
// window. Redis errors let the request through.
func (rl *RateLimiter) take(ctx context.Context, key cache.Key, limit int, window time.Duration) quota {
	now := time.Now()
	k := key.String()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now.Add(-window).UnixMicro(), 10))
	count := pipe.ZCard(ctx, k)
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("key", k).Msg("rate limit check failed")
		return quota{allowed: true, remaining: limit, reset: now.Add(window)}
	}

	used := int(count.Val())
	return quota{
		allowed:   used < limit,
		remaining: max(limit-used-1, 0),
		reset:     now.Add(window),
	}
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientAddr(r)
		if rl.isExempt(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.isBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("request from blocked address")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		rt := rl.match(r)
		if rt == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := cache.NewKey("ratelimit", rt.method+":"+rt.prefix+":"+rt.subject(r))
		q := rl.take(r.Context(), key, rt.requests, rt.window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rt.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(q.reset.Unix(), 10))

		if !q.allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rt.window.Seconds())))
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
			rl.logger.Warn().
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("path", r.URL.Path).
				Str("key", key.String()).
				Msg("rate limit exceeded")
			rl.recordViolation(r.Context(), ip)
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func violationsKey(ip string) cache.Key { return cache.NewKey("ratelimit", "violations:"+ip) }
func blockKey(ip string) cache.Key      { return cache.NewKey("blocked", ip) }

func (rl *RateLimiter) isBlocked(ctx context.Context, ip string) bool {
	n, err := rl.client.Exists(ctx, blockKey(ip).String()).Result()
	return err == nil && n > 0
}

// recordViolation counts a denied request and blocks the address once it
// reaches blockAfter within violationWindow.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, violationsKey(ip).String())
	pipe.Expire(ctx, violationsKey(ip).String(), violationWindow)
	if _, err := pipe.Exec(ctx); err != nil || incr.Val() < blockAfter {
		return
	}

	if err := rl.client.Set(ctx, blockKey(ip).String(), "repeated rate limit violations", blockFor).Err(); err != nil {
		rl.logger.Warn().Err(err).Str("ip", ip).Msg("block address")
		return
	}
	rl.logger.Warn().
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", incr.Val()).
		Msg("address blocked after repeated violations")
}
