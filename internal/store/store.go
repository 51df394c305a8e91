package store

import (
	"context"
	"embed"
	"time"

	"github.com/eldtechnologies/rtchat/internal/models"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Repository is the authoritative storage for chat messages and bans.
// Both PostgresStore and SQLiteStore implement this interface.
//
// Lookups of a single row return nil, nil when the row does not exist.
type Repository interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	InsertMessage(ctx context.Context, authorID, recipientID uint64, body string, at time.Time) (uint64, error)
	GetMessage(ctx context.Context, id uint64) (*models.Message, error)
	UpdateMessageBody(ctx context.Context, id uint64, body string) error
	DeleteMessage(ctx context.Context, id uint64) error
	DeleteAllMessages(ctx context.Context) error
	FetchRecent(ctx context.Context, limit int) ([]models.Message, error)
	FetchBefore(ctx context.Context, id uint64, limit int) ([]models.Message, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	TopPosters(ctx context.Context, limit int) ([]models.TopPoster, error)

	// Ban operations
	UpsertBan(ctx context.Context, ban models.Ban) error
	RemoveBan(ctx context.Context, userID uint64) error
	FindBan(ctx context.Context, userID uint64) (*models.Ban, error)
	FetchAllBans(ctx context.Context) ([]models.Ban, error)
	PruneExpiredBans(ctx context.Context, now time.Time) (int64, error)

	// User operations
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
}

// messageColumns is the projection shared by the recent-window and history
// queries: the message row joined with author and recipient display data.
const messageColumns = `
	m.id, m.author_id, m.recipient_id, m.body, m.created_at,
	COALESCE(u.username, ''), COALESCE(u.avatar, ''), COALESCE(t.username, '')
`

const messageJoins = `
	FROM rtchat_messages m
	LEFT JOIN users u ON u.id = m.author_id
	LEFT JOIN users t ON t.id = m.recipient_id
`
