package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Env         string `env:"ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/rtchat.db"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// Rate limiting
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED" envDefault:"true"`  // Block IPs after repeated violations

	// How often the server prunes old messages and expired bans, 0 = never.
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"1h"`

	// Cross-origin clients allowed to call the API.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Chat Chat `envPrefix:"CHAT_"`
}

// Chat holds the chat settings.
type Chat struct {
	WindowSize      int           `env:"WINDOW_SIZE" envDefault:"10"`
	HistoryPageSize int           `env:"HISTORY_PAGE_SIZE" envDefault:"10"`
	MaxLength       int           `env:"MSG_LENGTH" envDefault:"500"`
	AntiFlood       time.Duration `env:"ANTI_FLOOD" envDefault:"3s"`
	MinPosts        int           `env:"MIN_POSTS" envDefault:"0"`
	ClearAfterDays  int           `env:"CLEAR_AFTER_DAYS" envDefault:"7"`
	BotUserID       uint64        `env:"BOT_ID" envDefault:"1"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"168h"`
	StatsTTL        time.Duration `env:"STATS_TTL" envDefault:"30m"`
	MinBanMinutes   int           `env:"MIN_BAN_MINUTES" envDefault:"5"`
	WhisperEnabled  bool          `env:"WHISPER_ENABLED" envDefault:"true"`

	// Forum group ids; -1 allows every group.
	ViewGroups     []int `env:"VIEW_GROUPS" envSeparator:"," envDefault:"-1"`
	HistoryGroups  []int `env:"HISTORY_GROUPS" envSeparator:"," envDefault:"-1"`
	ModerateGroups []int `env:"MODERATE_GROUPS" envSeparator:"," envDefault:"4"`
	WhisperGroups  []int `env:"WHISPER_GROUPS" envSeparator:"," envDefault:"-1"`
}

// Retention is how long messages are kept, 0 = forever.
func (c Chat) Retention() time.Duration {
	return time.Duration(c.ClearAfterDays) * 24 * time.Hour
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// In production, require a real database
	if c.Env == "production" && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required in production")
	}
	if c.Chat.WindowSize <= 0 {
		return errors.New("CHAT_WINDOW_SIZE must be positive")
	}
	if c.Chat.HistoryPageSize <= 0 {
		return errors.New("CHAT_HISTORY_PAGE_SIZE must be positive")
	}
	if c.Chat.MaxLength < 0 || c.Chat.AntiFlood < 0 || c.Chat.ClearAfterDays < 0 {
		return errors.New("chat limits must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
