package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/rtchat/internal/app"
	"github.com/eldtechnologies/rtchat/internal/chat"
	"github.com/eldtechnologies/rtchat/internal/events"
	"github.com/eldtechnologies/rtchat/internal/models"
	"github.com/eldtechnologies/rtchat/internal/store"
)

// migrateCmd applies the schema to the configured database.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd.Context(), func(store.Repository) error {
			printf(cmd, "schema up to date\n")
			return nil
		})
	},
}

// pruneCmd removes messages past retention and expired bans once.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old messages and expired bans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			report, err := a.Chat.Prune(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "pruned %d messages and %d bans\n", report.Messages, report.Bans)
			return nil
		})
	},
}

// announceCmd posts a message as the chat bot.
var announceCmd = &cobra.Command{
	Use:   "announce <text>",
	Short: "Post a message as the chat bot",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := strings.Join(args, " ")
		return withApp(cmd.Context(), func(a *app.App) error {
			res, err := a.Chat.PostSystemMessage(cmd.Context(), body)
			if err != nil {
				return err
			}
			printf(cmd, "posted message %d\n", res.Messages[0].ID)
			return nil
		})
	},
}

// watchCmd prints committed chat events as JSON lines until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream committed chat events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app.App) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return events.Subscribe(ctx, a.Cache.Client(), a.Logger, func(ev chat.Event) {
				_ = enc.Encode(ev)
			})
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage forum sessions",
}

// sessionCreateCmd issues a session token for an existing user.
var sessionCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Issue a session token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app.App) error {
			user, err := a.Repo.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %q does not exist", args[0])
			}
			token, err := a.Sessions.Create(ctx, user.ID)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", token)
			return nil
		})
	},
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			return a.Sessions.Revoke(cmd.Context(), args[0])
		})
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage forum users",
}

var (
	userGroup  int
	userPosts  int
	userAvatar string
)

// userCreateCmd seeds a forum user, for development databases.
var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a forum user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if strings.TrimSpace(args[0]) == "" {
			return errors.New("username must not be empty")
		}
		return withRepository(ctx, func(repo store.Repository) error {
			existing, err := repo.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("user %q already exists with id %d", args[0], existing.ID)
			}
			user, err := repo.CreateUser(ctx, models.User{
				Username:  args[0],
				Avatar:    userAvatar,
				Group:     userGroup,
				PostCount: userPosts,
			})
			if err != nil {
				return err
			}
			printf(cmd, "created user %s with id %d\n", user.Username, user.ID)
			return nil
		})
	},
}

func init() {
	userCreateCmd.Flags().IntVar(&userGroup, "group", 2, "forum group id")
	userCreateCmd.Flags().IntVar(&userPosts, "posts", 0, "forum post count")
	userCreateCmd.Flags().StringVar(&userAvatar, "avatar", "", "avatar URL")

	sessionCmd.AddCommand(sessionCreateCmd, sessionRevokeCmd)
	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(migrateCmd, pruneCmd, announceCmd, watchCmd, sessionCmd, userCmd)
}
