package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/rtchat/internal/app"
	"github.com/eldtechnologies/rtchat/internal/config"
	"github.com/eldtechnologies/rtchat/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Maintenance commands for the forum chat",
	SilenceUsage: true,
}

// loadConfig reads the environment and builds the logger every command uses.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, app.NewLogger(cfg), nil
}

// withRepository runs fn against the configured database only.
func withRepository(ctx context.Context, fn func(store.Repository) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	repo, _, err := app.OpenRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}

// withApp runs fn against every backend.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
