package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Command
		ok   bool
	}{
		{"ban", `/ban "alice" "spam" 10`, Command{Kind: CommandBan, Username: "alice", Reason: "spam", Minutes: 10}, true},
		{"ban upper case", `/BAN "alice" "spam links" 10`, Command{Kind: CommandBan, Username: "alice", Reason: "spam links", Minutes: 10}, true},
		{"unban", `/unban "alice"`, Command{Kind: CommandUnban, Username: "alice"}, true},
		{"clear", `/clear`, Command{Kind: CommandClear}, true},
		{"clear mixed case", `/Clear`, Command{Kind: CommandClear}, true},
		{"check", `/check "bob smith"`, Command{Kind: CommandCheck, Username: "bob smith"}, true},
		{"missing closing quote", `/ban "alice "spam" 10`, Command{}, false},
		{"double space", `/ban "alice"  "spam" 10`, Command{}, false},
		{"missing minutes", `/ban "alice" "spam"`, Command{}, false},
		{"negative minutes", `/ban "alice" "spam" -5`, Command{}, false},
		{"trailing text", `/clear now`, Command{}, false},
		{"unquoted", `/unban alice`, Command{}, false},
		{"not a command", `hello /clear`, Command{}, false},
		{"unknown command", `/kick "alice"`, Command{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCommand(tt.body)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBanCommand(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.as(modUser)

	res, err := env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "spam" 10`})
	require.NoError(t, err)

	ban, ok := env.repo.bans[aliceUser.ID]
	require.True(t, ok)
	require.Len(t, env.repo.bans, 1)
	require.Equal(t, "spam", ban.Reason)
	require.True(t, ban.ExpiresAt.Equal(env.clock.now.Add(600*time.Second)))

	want := `The user alice has been banned with a reason "spam" for 10 minutes by Moderator`
	require.Equal(t, []string{want}, env.repo.bodies())
	require.Equal(t, botUser.ID, res.Messages[0].AuthorID)
	require.Equal(t, want, res.Messages[0].Body)

	env.as(aliceUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: "let me in"})
	require.ErrorIs(t, err, ErrBanned)

	env.as(modUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: `/ban "ALICE" "again" 10`})
	require.ErrorIs(t, err, ErrAlreadyBanned)
}

func TestBanCommandRejections(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.as(modUser)

	_, err := env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "spam" 3`})
	requireCode(t, err, CodeBanTimeTooShort)
	require.Empty(t, env.repo.bans)

	_, err = env.svc.Create(ctx, CreateRequest{Body: `/ban "moderator" "x" 10`})
	requireCode(t, err, CodeCannotBanSelf)

	_, err = env.svc.Create(ctx, CreateRequest{Body: `/ban "nobody" "x" 10`})
	requireCode(t, err, CodeUserNotFound)

	require.Empty(t, env.repo.bans)
	require.Empty(t, env.repo.bodies())
}

func TestBanLongerThanDurationRangeIsRejected(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.as(modUser)

	_, err := env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "spam" 200000000`})
	requireCode(t, err, CodeBanTimeTooLong)
	require.Empty(t, env.repo.bans)
	require.Empty(t, env.repo.bodies())

	body := fmt.Sprintf(`/ban "alice" "spam" %d`, MaxBanMinutes)
	_, err = env.svc.Create(ctx, CreateRequest{Body: body})
	require.NoError(t, err)
	ban := env.repo.bans[aliceUser.ID]
	require.True(t, ban.ExpiresAt.After(env.clock.now.AddDate(290, 0, 0)))

	env.as(aliceUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: "still here?"})
	require.ErrorIs(t, err, ErrBanned)
}

func TestRebanAfterExpiry(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.as(modUser)

	_, err := env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "spam" 5`})
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	_, err = env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "still spam" 5`})
	require.NoError(t, err)
	require.Equal(t, "still spam", env.repo.bans[aliceUser.ID].Reason)
}

func TestUnbanCommand(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.as(modUser)

	_, err := env.svc.Create(ctx, CreateRequest{Body: `/unban "alice"`})
	requireCode(t, err, CodeNotBanned)

	_, err = env.svc.Create(ctx, CreateRequest{Body: `/unban "ghost"`})
	requireCode(t, err, CodeUserNotFound)

	_, err = env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "spam" 10`})
	require.NoError(t, err)

	env.as(aliceUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: "hi"})
	require.ErrorIs(t, err, ErrBanned)

	env.as(modUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: `/unban "alice"`})
	require.NoError(t, err)
	require.Empty(t, env.repo.bans)
	require.Equal(t, "The user alice has been unbanned by Moderator", env.repo.bodies()[1])

	env.as(aliceUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: "hi"})
	require.NoError(t, err)
}

func TestClearCommand(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.post(t, aliceUser, "one")
	env.post(t, bobUser, "two")

	env.as(carolUser)
	_, err := env.svc.ReadRecent(ctx, nil)
	require.NoError(t, err)

	env.as(modUser)
	_, err = env.svc.Create(ctx, CreateRequest{Body: "/clear"})
	require.NoError(t, err)
	require.Equal(t, []string{"The chat has been cleared by Moderator"}, env.repo.bodies())

	env.as(carolUser)
	res, err := env.svc.ReadRecent(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	require.Equal(t, "The chat has been cleared by Moderator", res.Messages[0].Body)
}

func TestCheckCommandIsEphemeral(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.as(modUser)

	res, err := env.svc.Create(ctx, CreateRequest{Body: `/check "alice"`})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	require.True(t, res.Messages[0].Ephemeral)
	require.Zero(t, res.Messages[0].ID)
	require.Equal(t, "The user alice is not banned", res.Messages[0].Body)
	require.False(t, res.Messages[0].CanEdit)

	_, err = env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "spam" 60`})
	require.NoError(t, err)

	res, err = env.svc.Create(ctx, CreateRequest{Body: `/check "alice"`})
	require.NoError(t, err)
	require.Equal(t, `The user alice is banned until 2024-03-01 13:00 UTC with a reason "spam"`, res.Messages[0].Body)

	// Only the ban announcement was stored.
	require.Len(t, env.repo.bodies(), 1)

	_, err = env.svc.Create(ctx, CreateRequest{Body: `/check "ghost"`})
	requireCode(t, err, CodeUserNotFound)
}

func TestCommandsFromNonModeratorsArePlainText(t *testing.T) {
	env := newEnv(t)
	res := env.post(t, aliceUser, "/clear")
	require.Equal(t, "/clear", res.Messages[0].Body)
	require.Equal(t, aliceUser.ID, res.Messages[0].AuthorID)
	require.Empty(t, env.repo.bans)
}

func TestMalformedCommandFallsThrough(t *testing.T) {
	env := newEnv(t)
	res := env.post(t, modUser, `/ban "alice "spam" 10`)
	require.Equal(t, `/ban "alice "spam" 10`, res.Messages[0].Body)
	require.Equal(t, modUser.ID, res.Messages[0].AuthorID)
	require.Empty(t, env.repo.bans)
}

func TestCommandsSkipBodyChecks(t *testing.T) {
	env := newEnv(t, withOptions(func(o *Options) { o.MaxLength = 5 }))
	ctx := context.Background()
	env.as(modUser)
	_, err := env.svc.Create(ctx, CreateRequest{Body: `/ban "alice" "a long reason" 10`})
	require.NoError(t, err)
}
