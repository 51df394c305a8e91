package chat

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/metrics"
	"github.com/eldtechnologies/rtchat/internal/models"
)

// CommandKind identifies a moderation command.
type CommandKind string

const (
	CommandBan   CommandKind = "ban"
	CommandUnban CommandKind = "unban"
	CommandClear CommandKind = "clear"
	CommandCheck CommandKind = "check"
)

// Command is a parsed moderation command.
type Command struct {
	Kind     CommandKind
	Username string
	Reason   string
	Minutes  int
}

type matcher struct {
	pattern *regexp.Regexp
	build   func(m []string) (Command, bool)
}

// Evaluated in order; the first pattern that matches the whole body wins.
var matchers = []matcher{
	{
		pattern: regexp.MustCompile(`(?i)^/ban "([^"]+)" "([^"]+)" (\d+)$`),
		build: func(m []string) (Command, bool) {
			minutes, err := strconv.Atoi(m[3])
			if err != nil {
				return Command{}, false
			}
			return Command{Kind: CommandBan, Username: m[1], Reason: m[2], Minutes: minutes}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^/unban "([^"]+)"$`),
		build: func(m []string) (Command, bool) {
			return Command{Kind: CommandUnban, Username: m[1]}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^/clear$`),
		build: func([]string) (Command, bool) {
			return Command{Kind: CommandClear}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^/check "([^"]+)"$`),
		build: func(m []string) (Command, bool) {
			return Command{Kind: CommandCheck, Username: m[1]}, true
		},
	},
}

// ParseCommand recognizes a moderation command in body. Anything that does
// not match exactly is not a command and is posted as an ordinary message.
func ParseCommand(body string) (Command, bool) {
	for _, mt := range matchers {
		if m := mt.pattern.FindStringSubmatch(body); m != nil {
			return mt.build(m)
		}
	}
	return Command{}, false
}

// MaxBanMinutes is the longest ban whose expiry a time.Duration can hold,
// roughly 292 years.
const MaxBanMinutes = int64(math.MaxInt64 / int64(time.Minute))

// Outcome is the result of a successful command. A persisted outcome is
// posted by the bot as Announcement; an ephemeral one is shown only to the
// moderator who ran the command.
type Outcome struct {
	Announcement string
	Ephemeral    bool
}

// Interpreter executes moderation commands against the repository and
// keeps the ban cache and message window in step.
type Interpreter struct {
	repo          Repository
	users         UserDirectory
	cache         *MessageCache
	clock         Clock
	minBanMinutes int
	logger        zerolog.Logger
}

// NewInterpreter creates an interpreter. Bans shorter than minBanMinutes
// are rejected.
func NewInterpreter(repo Repository, users UserDirectory, cache *MessageCache, clock Clock, minBanMinutes int, logger zerolog.Logger) *Interpreter {
	return &Interpreter{
		repo:          repo,
		users:         users,
		cache:         cache,
		clock:         clock,
		minBanMinutes: minBanMinutes,
		logger:        logger.With().Str("component", "moderation").Logger(),
	}
}

// Execute runs cmd on behalf of moderator. The caller is responsible for
// checking that moderator is allowed to moderate.
func (i *Interpreter) Execute(ctx context.Context, moderator Identity, cmd Command) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch cmd.Kind {
	case CommandBan:
		out, err = i.ban(ctx, moderator, cmd)
	case CommandUnban:
		out, err = i.unban(ctx, moderator, cmd)
	case CommandClear:
		out, err = i.clear(ctx, moderator)
	case CommandCheck:
		out, err = i.check(ctx, cmd)
	default:
		err = fmt.Errorf("unknown command %q", cmd.Kind)
	}

	result := "ok"
	if err != nil {
		result = string(AsError(err).Code)
	}
	metrics.ModerationCommands.WithLabelValues(string(cmd.Kind), result).Inc()
	return out, err
}

func (i *Interpreter) ban(ctx context.Context, moderator Identity, cmd Command) (Outcome, error) {
	if cmd.Minutes < i.minBanMinutes {
		return Outcome{}, withArgs(ErrBanTimeTooShort, i.minBanMinutes)
	}
	if int64(cmd.Minutes) > MaxBanMinutes {
		return Outcome{}, withArgs(ErrBanTimeTooLong, MaxBanMinutes)
	}
	target, err := i.lookup(ctx, cmd.Username)
	if err != nil {
		return Outcome{}, err
	}
	if target.ID == moderator.UserID {
		return Outcome{}, ErrCannotBanSelf
	}

	now := i.clock.Now()
	existing, err := i.repo.FindBan(ctx, target.ID)
	if err != nil {
		return Outcome{}, storageError("find ban", err)
	}
	if existing != nil && existing.Active(now) {
		return Outcome{}, withArgs(ErrAlreadyBanned, target.Username)
	}

	ban := models.Ban{
		UserID:    target.ID,
		Reason:    cmd.Reason,
		BannedAt:  now,
		ExpiresAt: now.Add(time.Duration(cmd.Minutes) * time.Minute),
	}
	if err := i.repo.UpsertBan(ctx, ban); err != nil {
		return Outcome{}, storageError("upsert ban", err)
	}
	i.cache.RebuildBans(ctx)

	i.logger.Info().
		Uint64("user_id", target.ID).
		Uint64("moderator_id", moderator.UserID).
		Int("minutes", cmd.Minutes).
		Msg("user banned")

	return Outcome{Announcement: fmt.Sprintf(
		"The user %s has been banned with a reason \"%s\" for %d minutes by %s",
		target.Username, cmd.Reason, cmd.Minutes, moderator.Username,
	)}, nil
}

func (i *Interpreter) unban(ctx context.Context, moderator Identity, cmd Command) (Outcome, error) {
	target, err := i.lookup(ctx, cmd.Username)
	if err != nil {
		return Outcome{}, err
	}

	existing, err := i.repo.FindBan(ctx, target.ID)
	if err != nil {
		return Outcome{}, storageError("find ban", err)
	}
	if existing == nil || !existing.Active(i.clock.Now()) {
		return Outcome{}, withArgs(ErrNotBanned, target.Username)
	}

	if err := i.repo.RemoveBan(ctx, target.ID); err != nil {
		return Outcome{}, storageError("remove ban", err)
	}
	i.cache.RebuildBans(ctx)

	i.logger.Info().
		Uint64("user_id", target.ID).
		Uint64("moderator_id", moderator.UserID).
		Msg("user unbanned")

	return Outcome{Announcement: fmt.Sprintf("The user %s has been unbanned by %s", target.Username, moderator.Username)}, nil
}

func (i *Interpreter) clear(ctx context.Context, moderator Identity) (Outcome, error) {
	if err := i.repo.DeleteAllMessages(ctx); err != nil {
		return Outcome{}, storageError("delete all messages", err)
	}
	i.cache.Invalidate(ctx)

	i.logger.Info().Uint64("moderator_id", moderator.UserID).Msg("chat cleared")

	return Outcome{Announcement: fmt.Sprintf("The chat has been cleared by %s", moderator.Username)}, nil
}

func (i *Interpreter) check(ctx context.Context, cmd Command) (Outcome, error) {
	target, err := i.lookup(ctx, cmd.Username)
	if err != nil {
		return Outcome{}, err
	}

	ban, err := i.repo.FindBan(ctx, target.ID)
	if err != nil {
		return Outcome{}, storageError("find ban", err)
	}

	text := fmt.Sprintf("The user %s is not banned", target.Username)
	if ban != nil && ban.Active(i.clock.Now()) {
		text = fmt.Sprintf("The user %s is banned until %s with a reason \"%s\"",
			target.Username, ban.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"), ban.Reason)
	}
	return Outcome{Announcement: text, Ephemeral: true}, nil
}

func (i *Interpreter) lookup(ctx context.Context, username string) (*models.User, error) {
	user, err := i.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, storageError("get user", err)
	}
	if user == nil {
		return nil, withArgs(ErrUserNotFound, username)
	}
	return user, nil
}
