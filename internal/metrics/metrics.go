package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_messages_posted_total",
			Help: "Total messages committed to the repository",
		},
		[]string{"kind"}, // "public", "whisper" or "system"
	)

	ModerationCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_moderation_commands_total",
			Help: "Moderation commands executed",
		},
		[]string{"command", "result"},
	)

	RejectedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_rejected_requests_total",
			Help: "Chat operations rejected by validation or authorization",
		},
		[]string{"code"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_cache_lookups_total",
			Help: "Cache lookups by namespace and result",
		},
		[]string{"namespace", "result"}, // "hit" or "miss"
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_cache_errors_total",
			Help: "Cache operations that failed and fell back to the repository",
		},
		[]string{"namespace", "op"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
