package chat

import (
	"context"
	"time"

	"github.com/eldtechnologies/rtchat/internal/models"
)

// Identity is the caller as resolved by the forum session. A zero UserID
// means a guest.
type Identity struct {
	UserID    uint64
	Username  string
	Group     int
	PostCount int
}

// LoggedIn reports whether the identity belongs to a registered user.
func (i Identity) LoggedIn() bool {
	return i.UserID != 0
}

// IdentityOf builds the identity for a forum user row.
func IdentityOf(u *models.User) Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{UserID: u.ID, Username: u.Username, Group: u.Group, PostCount: u.PostCount}
}

// Authenticator resolves the caller of the current request.
type Authenticator interface {
	Current(ctx context.Context) (Identity, error)
}

// PermissionChecker answers group-based permission questions.
type PermissionChecker interface {
	CanView(id Identity) bool
	CanViewHistory(id Identity) bool
	CanModerate(id Identity) bool
	CanWhisper(id Identity) bool
	// CanPost reports whether id has enough forum posts to write.
	CanPost(id Identity) bool
	// MinPosts is the post count CanPost requires.
	MinPosts() int
}

// Renderer turns a raw message body into display markup.
type Renderer interface {
	Render(body string) string
}

// Clock is the time source for timestamps, flood checks and ban expiry.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// storedPrecision truncates a clock to microseconds, the finest precision
// both repositories keep, so times read back compare equal to times written.
type storedPrecision struct {
	Clock
}

func (c storedPrecision) Now() time.Time { return c.Clock.Now().Truncate(time.Microsecond) }

// Repository is the part of the message store the chat depends on.
type Repository interface {
	InsertMessage(ctx context.Context, authorID, recipientID uint64, body string, at time.Time) (uint64, error)
	GetMessage(ctx context.Context, id uint64) (*models.Message, error)
	UpdateMessageBody(ctx context.Context, id uint64, body string) error
	DeleteMessage(ctx context.Context, id uint64) error
	DeleteAllMessages(ctx context.Context) error
	FetchRecent(ctx context.Context, limit int) ([]models.Message, error)
	FetchBefore(ctx context.Context, id uint64, limit int) ([]models.Message, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	TopPosters(ctx context.Context, limit int) ([]models.TopPoster, error)

	UpsertBan(ctx context.Context, ban models.Ban) error
	RemoveBan(ctx context.Context, userID uint64) error
	FindBan(ctx context.Context, userID uint64) (*models.Ban, error)
	FetchAllBans(ctx context.Context) ([]models.Ban, error)
	PruneExpiredBans(ctx context.Context, now time.Time) (int64, error)
}

// UserDirectory looks up forum users. Missing users are nil, nil.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// EventKind names the lifecycle operation an Event belongs to.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// EventPhase is "begin" before validation and "commit" after the change is
// persisted and the cache rebuilt.
type EventPhase string

const (
	PhaseBegin  EventPhase = "begin"
	PhaseCommit EventPhase = "commit"
)

// Event is handed to the EventSink at each lifecycle hook point.
type Event struct {
	ID          string     `json:"id"`
	Kind        EventKind  `json:"kind"`
	Phase       EventPhase `json:"phase"`
	MessageID   uint64     `json:"message_id,omitempty"`
	AuthorID    uint64     `json:"author_id,omitempty"`
	RecipientID uint64     `json:"recipient_id,omitempty"`
	Body        string     `json:"body,omitempty"`
	At          time.Time  `json:"at"`
}

// EventSink receives lifecycle events. Emit must not block the caller for
// long and has no way to veto the operation.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}
