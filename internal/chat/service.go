// Package chat implements the forum chat: the cache-aside message window,
// the moderation commands and the create/read/update/delete lifecycle.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/cache"
	"github.com/eldtechnologies/rtchat/internal/metrics"
	"github.com/eldtechnologies/rtchat/internal/models"
)

var topPostersKey = cache.NewKey("stats", "top_posters")

// Options are the chat settings.
type Options struct {
	WindowSize      int
	CacheTTL        time.Duration
	MaxLength       int           // in characters, 0 = unlimited
	AntiFlood       time.Duration // 0 disables the flood check
	HistoryPageSize int
	BotUserID       uint64
	Retention       time.Duration // 0 keeps messages forever
	MinBanMinutes   int
	StatsTTL        time.Duration
	TopPostersLimit int
}

// DefaultOptions returns the settings a fresh installation starts with.
func DefaultOptions() Options {
	return Options{
		WindowSize:      10,
		CacheTTL:        7 * 24 * time.Hour,
		MaxLength:       500,
		AntiFlood:       3 * time.Second,
		HistoryPageSize: 10,
		BotUserID:       1,
		Retention:       7 * 24 * time.Hour,
		MinBanMinutes:   5,
		StatsTTL:        30 * time.Minute,
		TopPostersLimit: 10,
	}
}

// Deps are the collaborators of a Service. Clock and Events are optional.
type Deps struct {
	Repo     Repository
	Users    UserDirectory
	Cache    cache.Store
	Auth     Authenticator
	Perms    PermissionChecker
	Renderer Renderer
	Clock    Clock
	Events   EventSink
	Logger   zerolog.Logger
}

// Service runs the message lifecycle.
type Service struct {
	repo     Repository
	users    UserDirectory
	auth     Authenticator
	perms    PermissionChecker
	renderer Renderer
	clock    Clock
	events   EventSink
	logger   zerolog.Logger

	opts    Options
	cache   *MessageCache
	interp  *Interpreter
	posters cache.Query[[]models.TopPoster]
}

// NewService validates deps and builds a Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("chat: repository is required")
	case deps.Users == nil:
		return nil, errors.New("chat: user directory is required")
	case deps.Cache == nil:
		return nil, errors.New("chat: cache store is required")
	case deps.Auth == nil:
		return nil, errors.New("chat: authenticator is required")
	case deps.Perms == nil:
		return nil, errors.New("chat: permission checker is required")
	case deps.Renderer == nil:
		return nil, errors.New("chat: renderer is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	deps.Clock = storedPrecision{deps.Clock}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultOptions().WindowSize
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = opts.WindowSize
	}
	if opts.TopPostersLimit <= 0 {
		opts.TopPostersLimit = DefaultOptions().TopPostersLimit
	}

	logger := deps.Logger.With().Str("component", "chat").Logger()
	mc := NewMessageCache(deps.Repo, deps.Cache, opts.WindowSize, opts.CacheTTL, deps.Logger)

	s := &Service{
		repo:     deps.Repo,
		users:    deps.Users,
		auth:     deps.Auth,
		perms:    deps.Perms,
		renderer: deps.Renderer,
		clock:    deps.Clock,
		events:   deps.Events,
		logger:   logger,
		opts:     opts,
		cache:    mc,
		interp:   NewInterpreter(deps.Repo, deps.Users, mc, deps.Clock, opts.MinBanMinutes, deps.Logger),
	}
	s.posters = cache.Query[[]models.TopPoster]{
		Store: deps.Cache,
		Key:   topPostersKey,
		TTL:   opts.StatsTTL,
		Load: func(ctx context.Context) ([]models.TopPoster, error) {
			return deps.Repo.TopPosters(ctx, opts.TopPostersLimit)
		},
		OnCacheError: func(op string, err error) {
			logger.Warn().Err(err).Str("key", topPostersKey.String()).Str("op", op).Msg("cache operation failed")
		},
	}
	return s, nil
}

// Cache exposes the message cache, mainly for maintenance tasks.
func (s *Service) Cache() *MessageCache {
	return s.cache
}

// CreateRequest is the input of Create. AuthorID defaults to the caller.
// BypassValidation is for trusted internal callers such as system messages:
// it skips every check except command interpretation.
type CreateRequest struct {
	AuthorID         uint64
	RecipientID      uint64
	Body             string
	BypassValidation bool
}

// Create validates and stores a new message, or runs the moderation
// command it contains.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	body := strings.TrimSpace(req.Body)
	s.emit(ctx, EventInsert, PhaseBegin, models.Message{AuthorID: req.AuthorID, RecipientID: req.RecipientID, Body: body})

	var (
		author Identity
		err    error
	)
	if req.BypassValidation {
		author, err = s.identityByID(ctx, req.AuthorID)
	} else {
		author, err = s.auth.Current(ctx)
		if err == nil {
			err = s.checkWriter(ctx, author, true)
		}
		if err == nil && req.AuthorID != 0 && req.AuthorID != author.UserID {
			err = ErrNoPermission
		}
	}
	if err != nil {
		return nil, s.fail(err)
	}

	moderator := s.perms.CanModerate(author)
	if moderator {
		if cmd, ok := ParseCommand(body); ok {
			return s.runCommand(ctx, author, cmd)
		}
	}

	if !req.BypassValidation {
		if err := s.validateBody(body); err != nil {
			return nil, s.fail(err)
		}
		if req.RecipientID != 0 {
			if err := s.checkWhisper(ctx, author, req.RecipientID); err != nil {
				return nil, s.fail(err)
			}
		}
		if !moderator && s.opts.AntiFlood > 0 {
			if err := s.checkFlood(ctx, author.UserID); err != nil {
				return nil, s.fail(err)
			}
		}
	}

	msg, err := s.commit(ctx, author.UserID, req.RecipientID, body)
	if err != nil {
		return nil, s.fail(err)
	}
	kind := "public"
	switch {
	case req.BypassValidation:
		kind = "system"
	case msg.IsWhisper():
		kind = "whisper"
	}
	metrics.MessagesPosted.WithLabelValues(kind).Inc()

	viewer := author
	if req.BypassValidation {
		viewer = Identity{}
	}
	return &Result{Messages: []RenderedMessage{s.render(viewer, *msg)}}, nil
}

// PostSystemMessage stores body as a message from the bot user without
// any validation. Forum event hooks use this.
func (s *Service) PostSystemMessage(ctx context.Context, body string) (*Result, error) {
	return s.Create(ctx, CreateRequest{AuthorID: s.opts.BotUserID, Body: body, BypassValidation: true})
}

func (s *Service) runCommand(ctx context.Context, moderator Identity, cmd Command) (*Result, error) {
	out, err := s.interp.Execute(ctx, moderator, cmd)
	if err != nil {
		return nil, s.fail(err)
	}

	if out.Ephemeral {
		bot, err := s.identityByID(ctx, s.opts.BotUserID)
		if err != nil {
			return nil, s.fail(err)
		}
		rm := s.render(moderator, models.Message{
			AuthorID:   bot.UserID,
			AuthorName: bot.Username,
			Body:       out.Announcement,
			CreatedAt:  s.clock.Now(),
		})
		rm.Ephemeral = true
		rm.CanEdit, rm.CanDelete, rm.CanWhisper = false, false, false
		return &Result{Messages: []RenderedMessage{rm}}, nil
	}

	msg, err := s.commit(ctx, s.opts.BotUserID, 0, out.Announcement)
	if err != nil {
		return nil, s.fail(err)
	}
	metrics.MessagesPosted.WithLabelValues("system").Inc()
	return &Result{Messages: []RenderedMessage{s.render(moderator, *msg)}}, nil
}

// commit inserts the message, rebuilds the window and returns the stored
// row with its display data.
func (s *Service) commit(ctx context.Context, authorID, recipientID uint64, body string) (*models.Message, error) {
	now := s.clock.Now()
	id, err := s.repo.InsertMessage(ctx, authorID, recipientID, body, now)
	if err != nil {
		return nil, storageError("insert message", err)
	}
	s.cache.Rebuild(ctx)

	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil || msg == nil {
		if err != nil {
			s.logger.Warn().Err(err).Uint64("message_id", id).Msg("reload inserted message")
		}
		msg = &models.Message{ID: id, AuthorID: authorID, RecipientID: recipientID, Body: body, CreatedAt: now}
	}
	s.emit(ctx, EventInsert, PhaseCommit, *msg)
	return msg, nil
}

// ReadRecent returns the messages of the recent window the caller may see
// and has not loaded yet, oldest first.
func (s *Service) ReadRecent(ctx context.Context, loaded []uint64) (*Result, error) {
	viewer, err := s.auth.Current(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	if !s.perms.CanView(viewer) {
		return nil, s.fail(ErrNoPermission)
	}

	window, err := s.cache.Window(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	seen := make(map[uint64]struct{}, len(loaded))
	for _, id := range loaded {
		seen[id] = struct{}{}
	}

	res := &Result{Messages: []RenderedMessage{}}
	// window is newest first; walk it backwards to answer oldest first.
	for i := len(window) - 1; i >= 0; i-- {
		m := window[i]
		if !m.VisibleTo(viewer.UserID) {
			continue
		}
		res.Cursor.track(m.ID)
		if _, ok := seen[m.ID]; ok {
			continue
		}
		res.Messages = append(res.Messages, s.render(viewer, m))
	}

	if len(loaded) > 0 && len(res.Messages) == 0 {
		return nil, ErrNoNewMessages
	}
	return res, nil
}

// ReadBefore returns up to one history page of messages older than
// cursorID, newest first. It always reads the repository.
func (s *Service) ReadBefore(ctx context.Context, cursorID uint64) (*Result, error) {
	viewer, err := s.auth.Current(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	if !s.perms.CanView(viewer) {
		return nil, s.fail(ErrNoPermission)
	}
	if !s.perms.CanViewHistory(viewer) {
		return nil, s.fail(ErrNoHistoryPermission)
	}

	rows, err := s.repo.FetchBefore(ctx, cursorID, s.opts.HistoryPageSize)
	if err != nil {
		return nil, s.fail(storageError("fetch history", err))
	}
	if len(rows) == 0 {
		return nil, ErrNoMessagesFound
	}

	res := &Result{Messages: []RenderedMessage{}}
	for _, m := range rows {
		if !m.VisibleTo(viewer.UserID) {
			continue
		}
		res.Cursor.track(m.ID)
		res.Messages = append(res.Messages, s.render(viewer, m))
	}
	// Continue paging from the oldest row, visible or not.
	res.Cursor.First = rows[len(rows)-1].ID
	return res, nil
}

// Update replaces the body of a message. Authors may edit their own
// messages; moderators may edit any message they can see.
func (s *Service) Update(ctx context.Context, id uint64, body string) (*Result, error) {
	body = strings.TrimSpace(body)
	s.emit(ctx, EventUpdate, PhaseBegin, models.Message{ID: id, Body: body})

	caller, err := s.auth.Current(ctx)
	if err == nil {
		err = s.checkWriter(ctx, caller, true)
	}
	if err != nil {
		return nil, s.fail(err)
	}

	msg, err := s.ownedMessage(ctx, caller, id)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.validateBody(body); err != nil {
		return nil, s.fail(err)
	}
	if msg.Body == body {
		return nil, s.fail(ErrMessageUnchanged)
	}

	if err := s.repo.UpdateMessageBody(ctx, id, body); err != nil {
		return nil, s.fail(storageError("update message", err))
	}
	s.cache.Rebuild(ctx)

	msg.Body = body
	s.emit(ctx, EventUpdate, PhaseCommit, *msg)
	return &Result{Messages: []RenderedMessage{s.render(caller, *msg)}}, nil
}

// Delete removes a message. The same ownership rules as Update apply.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	s.emit(ctx, EventDelete, PhaseBegin, models.Message{ID: id})

	caller, err := s.auth.Current(ctx)
	if err == nil {
		err = s.checkWriter(ctx, caller, false)
	}
	if err != nil {
		return s.fail(err)
	}

	msg, err := s.ownedMessage(ctx, caller, id)
	if err != nil {
		return s.fail(err)
	}

	if err := s.repo.DeleteMessage(ctx, id); err != nil {
		return s.fail(storageError("delete message", err))
	}
	s.cache.Rebuild(ctx)

	s.emit(ctx, EventDelete, PhaseCommit, *msg)
	return nil
}

// PruneReport counts the rows removed by Prune.
type PruneReport struct {
	Messages int64 `json:"messages"`
	Bans     int64 `json:"bans"`
}

// Prune deletes messages past the retention period and expired bans, and
// rebuilds the caches that changed.
func (s *Service) Prune(ctx context.Context) (PruneReport, error) {
	var report PruneReport
	now := s.clock.Now()

	if s.opts.Retention > 0 {
		n, err := s.repo.PruneOlderThan(ctx, now.Add(-s.opts.Retention))
		if err != nil {
			return report, storageError("prune messages", err)
		}
		report.Messages = n
		if n > 0 {
			s.cache.Rebuild(ctx)
		}
	}

	n, err := s.repo.PruneExpiredBans(ctx, now)
	if err != nil {
		return report, storageError("prune bans", err)
	}
	report.Bans = n
	if n > 0 {
		s.cache.RebuildBans(ctx)
	}

	if report.Messages > 0 || report.Bans > 0 {
		s.logger.Info().Int64("messages", report.Messages).Int64("bans", report.Bans).Msg("pruned chat")
	}
	return report, nil
}

// TopPosters returns the users with the most messages, cached for
// Options.StatsTTL.
func (s *Service) TopPosters(ctx context.Context) ([]models.TopPoster, error) {
	posters, err := s.posters.Remember(ctx)
	if err != nil {
		return nil, storageError("top posters", err)
	}
	return posters, nil
}

// LastActivity returns how long ago the newest public message in the
// window was posted. ok is false when the window holds none.
func (s *Service) LastActivity(ctx context.Context) (age time.Duration, ok bool, err error) {
	window, err := s.cache.Window(ctx)
	if err != nil {
		return 0, false, s.fail(err)
	}
	for _, m := range window {
		if !m.IsWhisper() {
			return s.clock.Now().Sub(m.CreatedAt), true, nil
		}
	}
	return 0, false, nil
}

// checkWriter runs the checks shared by every write: logged in, can view,
// not banned and, when posts is set, the minimum post count.
func (s *Service) checkWriter(ctx context.Context, caller Identity, posts bool) error {
	if !caller.LoggedIn() {
		return ErrNotLoggedIn
	}
	if !s.perms.CanView(caller) {
		return ErrNoPermission
	}
	banned, err := s.cache.IsBanned(ctx, caller.UserID, s.clock.Now())
	if err != nil {
		return err
	}
	if banned {
		return ErrBanned
	}
	if posts && !s.perms.CanModerate(caller) {
		if !s.perms.CanPost(caller) {
			return withArgs(ErrInsufficientPosts, s.perms.MinPosts(), caller.PostCount)
		}
	}
	return nil
}

func (s *Service) validateBody(body string) error {
	if body == "" {
		return ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(body); s.opts.MaxLength > 0 && n > s.opts.MaxLength {
		return withArgs(ErrMessageTooLong, n, s.opts.MaxLength)
	}
	return nil
}

func (s *Service) checkWhisper(ctx context.Context, author Identity, recipientID uint64) error {
	if !s.perms.CanWhisper(author) {
		return ErrWhisperDisabled
	}
	recipient, err := s.users.GetUserByID(ctx, recipientID)
	if err != nil {
		return storageError("get recipient", err)
	}
	if recipient == nil {
		return ErrRecipientNotFound
	}
	if recipient.ID == author.UserID {
		return ErrWhisperSelf
	}
	return nil
}

// checkFlood compares against the newest message in the window only. An
// older message by the same author behind someone else's does not count.
func (s *Service) checkFlood(ctx context.Context, authorID uint64) error {
	window, err := s.cache.Window(ctx)
	if err != nil {
		return err
	}
	if len(window) == 0 || window[0].AuthorID != authorID {
		return nil
	}
	if s.clock.Now().Sub(window[0].CreatedAt) < s.opts.AntiFlood {
		return withArgs(ErrFloodDetected, int(s.opts.AntiFlood/time.Second))
	}
	return nil
}

// ownedMessage loads id and checks the caller may change it.
func (s *Service) ownedMessage(ctx context.Context, caller Identity, id uint64) (*models.Message, error) {
	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, storageError("get message", err)
	}
	if msg == nil || !msg.VisibleTo(caller.UserID) {
		return nil, ErrMessageNotFound
	}
	if msg.AuthorID != caller.UserID && !s.perms.CanModerate(caller) {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (s *Service) identityByID(ctx context.Context, id uint64) (Identity, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return Identity{}, storageError("get user", err)
	}
	if user == nil {
		return Identity{UserID: id}, nil
	}
	return IdentityOf(user), nil
}

func (s *Service) emit(ctx context.Context, kind EventKind, phase EventPhase, msg models.Message) {
	now := s.clock.Now()
	s.events.Emit(ctx, Event{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Kind:        kind,
		Phase:       phase,
		MessageID:   msg.ID,
		AuthorID:    msg.AuthorID,
		RecipientID: msg.RecipientID,
		Body:        msg.Body,
		At:          now,
	})
}

// fail records rejections by code. Storage failures are logged with their
// cause, which never reaches the caller.
func (s *Service) fail(err error) error {
	chatErr := AsError(err)
	if chatErr.Kind == KindStorage {
		s.logger.Error().Err(chatErr.Err).Msg("chat storage failure")
	}
	metrics.RejectedRequests.WithLabelValues(string(chatErr.Code)).Inc()
	return chatErr
}
