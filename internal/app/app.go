// Package app wires the chat service to its storage, cache and event
// backends from configuration. Both the server and chatctl start here.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/api/middleware"
	"github.com/eldtechnologies/rtchat/internal/cache"
	"github.com/eldtechnologies/rtchat/internal/chat"
	"github.com/eldtechnologies/rtchat/internal/config"
	"github.com/eldtechnologies/rtchat/internal/events"
	"github.com/eldtechnologies/rtchat/internal/forum"
	"github.com/eldtechnologies/rtchat/internal/render"
	"github.com/eldtechnologies/rtchat/internal/session"
	"github.com/eldtechnologies/rtchat/internal/store"
)

// App holds the long-lived backends of a running process.
type App struct {
	Config   *config.Config
	Repo     store.Repository
	DBName   string
	Cache    *cache.RedisStore
	Sessions *session.Store
	Chat     *chat.Service
	Logger   zerolog.Logger
}

// NewLogger returns a console logger in development and a JSON logger
// otherwise.
func NewLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// OpenRepository connects to PostgreSQL when DATABASE_URL is set, running
// migrations first, and falls back to the SQLite file otherwise.
func OpenRepository(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Repository, string, error) {
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			return nil, "", fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("postgres: %w", err)
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg, "postgres", nil
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("sqlite dir: %w", err)
		}
	}
	lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: %w", err)
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	return lite, "sqlite", nil
}

// New connects every backend and builds the chat service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	repo, dbName, err := OpenRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	redisStore, err := cache.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	logger.Info().Msg("connected to Redis")

	a, err := Assemble(cfg, repo, dbName, redisStore, logger)
	if err != nil {
		repo.Close()
		redisStore.Close()
		return nil, err
	}
	return a, nil
}

// Assemble builds the chat service on already connected backends.
func Assemble(cfg *config.Config, repo store.Repository, dbName string, redisStore *cache.RedisStore, logger zerolog.Logger) (*App, error) {
	client := redisStore.Client()

	svc, err := chat.NewService(chat.Deps{
		Repo:     repo,
		Users:    repo,
		Cache:    redisStore,
		Auth:     middleware.ContextAuthenticator{},
		Perms:    forum.NewPermissions(cfg.Chat),
		Renderer: render.HTMLRenderer{},
		Events: events.Multi{
			events.LogSink{Logger: logger},
			events.NewRedisSink(client, logger),
		},
		Logger: logger,
	}, Options(cfg.Chat))
	if err != nil {
		return nil, fmt.Errorf("chat service: %w", err)
	}

	return &App{
		Config:   cfg,
		Repo:     repo,
		DBName:   dbName,
		Cache:    redisStore,
		Sessions: session.NewStore(client, session.DefaultTTL),
		Chat:     svc,
		Logger:   logger,
	}, nil
}

// Options maps the chat settings onto service options.
func Options(c config.Chat) chat.Options {
	opts := chat.DefaultOptions()
	opts.WindowSize = c.WindowSize
	opts.HistoryPageSize = c.HistoryPageSize
	opts.MaxLength = c.MaxLength
	opts.AntiFlood = c.AntiFlood
	opts.BotUserID = c.BotUserID
	opts.CacheTTL = c.CacheTTL
	opts.StatsTTL = c.StatsTTL
	opts.MinBanMinutes = c.MinBanMinutes
	opts.Retention = c.Retention()
	return opts
}

// RunPruner prunes old messages and expired bans every interval until ctx
// is done. A zero interval disables it.
func (a *App) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Chat.Prune(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("prune failed")
			}
		}
	}
}

// Close releases every backend.
func (a *App) Close() {
	a.Repo.Close()
	if err := a.Cache.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("close redis")
	}
}
