package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserCreate(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "db", "chat.db"))

	out, err := run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "schema up to date")

	out, err = run(t, "user", "create", "dana", "--group", "4", "--posts", "12")
	require.NoError(t, err)
	require.Contains(t, out, "created user dana with id 1")

	_, err = run(t, "user", "create", "DANA")
	require.ErrorContains(t, err, "already exists")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "prune", "announce", "watch", "session", "user"} {
		require.True(t, names[want], want)
	}
}
