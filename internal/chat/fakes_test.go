package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/rtchat/internal/cache"
	"github.com/eldtechnologies/rtchat/internal/models"
)

var (
	botUser   = models.User{ID: 1, Username: "ChatBot", Group: 4}
	aliceUser = models.User{ID: 2, Username: "alice", Group: 2, PostCount: 10}
	bobUser   = models.User{ID: 3, Username: "bob", Group: 2, PostCount: 10}
	carolUser = models.User{ID: 4, Username: "carol", Group: 2, PostCount: 10}
	modUser   = models.User{ID: 5, Username: "Moderator", Group: 4, PostCount: 100}
)

// memRepo is an in-memory Repository and UserDirectory.
type memRepo struct {
	mu       sync.Mutex
	nextID   uint64
	messages []models.Message // oldest first
	bans     map[uint64]models.Ban
	users    map[uint64]models.User

	fetchRecentCalls int
	fail             error
}

func newMemRepo(users ...models.User) *memRepo {
	r := &memRepo{bans: map[uint64]models.Ban{}, users: map[uint64]models.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memRepo) decorate(m models.Message) models.Message {
	if u, ok := r.users[m.AuthorID]; ok {
		m.AuthorName = u.Username
		m.AuthorAvatar = u.Avatar
	}
	if u, ok := r.users[m.RecipientID]; ok {
		m.RecipientName = u.Username
	}
	return m
}

func (r *memRepo) add(authorID, recipientID uint64, body string, at time.Time) uint64 {
	id, _ := r.InsertMessage(context.Background(), authorID, recipientID, body, at)
	return id
}

func (r *memRepo) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, m := range r.messages {
		out = append(out, m.Body)
	}
	return out
}

func (r *memRepo) InsertMessage(_ context.Context, authorID, recipientID uint64, body string, at time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	r.nextID++
	r.messages = append(r.messages, models.Message{
		ID: r.nextID, AuthorID: authorID, RecipientID: recipientID, Body: body, CreatedAt: at,
	})
	return r.nextID, nil
}

func (r *memRepo) GetMessage(_ context.Context, id uint64) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	for _, m := range r.messages {
		if m.ID == id {
			m = r.decorate(m)
			return &m, nil
		}
	}
	return nil, nil
}

func (r *memRepo) UpdateMessageBody(_ context.Context, id uint64, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].Body = body
		}
	}
	return nil
}

func (r *memRepo) DeleteMessage(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	r.messages = kept
	return nil
}

func (r *memRepo) DeleteAllMessages(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.messages = nil
	return nil
}

func (r *memRepo) FetchRecent(_ context.Context, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchRecentCalls++
	if r.fail != nil {
		return nil, r.fail
	}
	out := []models.Message{}
	for i := len(r.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.decorate(r.messages[i]))
	}
	return out, nil
}

func (r *memRepo) FetchBefore(_ context.Context, id uint64, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	out := []models.Message{}
	for i := len(r.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if r.messages[i].ID < id {
			out = append(out, r.decorate(r.messages[i]))
		}
	}
	return out, nil
}

func (r *memRepo) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.messages = kept
	return n, nil
}

func (r *memRepo) TopPosters(_ context.Context, limit int) ([]models.TopPoster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[uint64]int64{}
	for _, m := range r.messages {
		counts[m.AuthorID]++
	}
	out := []models.TopPoster{}
	for id, n := range counts {
		out = append(out, models.TopPoster{UserID: id, Username: r.users[id].Username, TotalMessages: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalMessages != out[j].TotalMessages {
			return out[i].TotalMessages > out[j].TotalMessages
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) UpsertBan(_ context.Context, ban models.Ban) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans[ban.UserID] = ban
	return nil
}

func (r *memRepo) RemoveBan(_ context.Context, userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bans, userID)
	return nil
}

func (r *memRepo) FindBan(_ context.Context, userID uint64) (*models.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bans[userID]; ok {
		return &b, nil
	}
	return nil, nil
}

func (r *memRepo) FetchAllBans(context.Context) ([]models.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Ban{}
	for _, b := range r.bans {
		out = append(out, b)
	}
	return out, nil
}

func (r *memRepo) PruneExpiredBans(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, b := range r.bans {
		if !b.ExpiresAt.After(now) {
			delete(r.bans, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) GetUserByID(_ context.Context, id uint64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *memRepo) GetUserByUsername(_ context.Context, name string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, name) {
			return &u, nil
		}
	}
	return nil, nil
}

type stubAuth struct {
	current Identity
}

func (a *stubAuth) Current(context.Context) (Identity, error) {
	return a.current, nil
}

type stubPerms struct {
	moderators map[uint64]bool
	noView     bool
	noHistory  bool
	noWhisper  bool
	minPosts   int
}

func (p *stubPerms) CanView(Identity) bool { return !p.noView }
func (p *stubPerms) CanViewHistory(Identity) bool { return !p.noHistory }
func (p *stubPerms) CanModerate(id Identity) bool { return p.moderators[id.UserID] }
func (p *stubPerms) CanWhisper(id Identity) bool { return id.LoggedIn() && !p.noWhisper }
func (p *stubPerms) CanPost(id Identity) bool { return id.PostCount >= p.minPosts }
func (p *stubPerms) MinPosts() int { return p.minPosts }

type paragraphRenderer struct{}

func (paragraphRenderer) Render(body string) string { return "<p>" + body + "</p>" }

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }
func (c *stubClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// brokenStore fails every operation, like a cache server that is down.
type brokenStore struct{}

var errCacheDown = errors.New("cache down")

func (brokenStore) Get(context.Context, cache.Key, any) (bool, error) { return false, errCacheDown }
func (brokenStore) Set(context.Context, cache.Key, any, time.Duration) error { return errCacheDown }
func (brokenStore) Delete(context.Context, cache.Key) error { return errCacheDown }

type testEnv struct {
	svc   *Service
	repo  *memRepo
	auth  *stubAuth
	perms *stubPerms
	clock *stubClock
	sink  *recordingSink
	redis *miniredis.Miniredis
}

type envOption func(*Options, *Deps)

func withOptions(fn func(*Options)) envOption {
	return func(o *Options, _ *Deps) { fn(o) }
}

func withLogger(l zerolog.Logger) envOption {
	return func(_ *Options, d *Deps) { d.Logger = l }
}

func withBrokenCache() envOption {
	return func(_ *Options, d *Deps) { d.Cache = brokenStore{} }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:  newMemRepo(botUser, aliceUser, bobUser, carolUser, modUser),
		auth:  &stubAuth{},
		perms: &stubPerms{moderators: map[uint64]bool{modUser.ID: true}},
		clock: &stubClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		sink:  &recordingSink{},
		redis: miniredis.RunT(t),
	}

	client := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := Deps{
		Repo:     env.repo,
		Users:    env.repo,
		Cache:    cache.NewRedisStoreFromClient(client, cache.WithClock(env.clock.Now)),
		Auth:     env.auth,
		Perms:    env.perms,
		Renderer: paragraphRenderer{},
		Clock:    env.clock,
		Events:   env.sink,
		Logger:   zerolog.Nop(),
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options, &deps)
	}

	svc, err := NewService(deps, options)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func (e *testEnv) as(u models.User) {
	e.auth.current = IdentityOf(&u)
}

func (e *testEnv) guest() {
	e.auth.current = Identity{}
}

func ids(msgs []RenderedMessage) []uint64 {
	out := []uint64{}
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, code, chatErr.Code, chatErr.Message)
}
