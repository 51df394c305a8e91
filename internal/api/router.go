package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/api/middleware"
	"github.com/eldtechnologies/rtchat/internal/app"
	"github.com/eldtechnologies/rtchat/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, a *app.App) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware. The session is resolved before logging so
	// request logs carry the user id.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSessionAuth(a.Sessions, a.Repo, logger).Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(a.Cache.Client(), logger, middleware.RateLimiterConfig{
		Whitelist:        a.Config.RateLimitWhitelist,
		AutoBlockEnabled: a.Config.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(a.Chat, a.Repo, a.DBName, a.Cache, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/chat", func(r chi.Router) {
		r.Get("/messages", h.ListRecent)
		r.Post("/messages", h.PostMessage)
		r.Get("/messages/history", h.ListHistory)
		r.Put("/messages/{id}", h.UpdateMessage)
		r.Delete("/messages/{id}", h.DeleteMessage)
		r.Get("/statistics", h.Statistics)
	})

	return r
}
