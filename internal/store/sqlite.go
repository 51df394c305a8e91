package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/rtchat/internal/models"
)

// SQLiteStore handles SQLite database operations. Timestamps are stored as
// unix seconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and applies the schema.
// If dbPath is empty, defaults to "./data/rtchat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/rtchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema/sqlite.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertMessage appends a message and returns its id.
func (s *SQLiteStore) InsertMessage(ctx context.Context, authorID, recipientID uint64, body string, at time.Time) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rtchat_messages (author_id, recipient_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`, int64(authorID), int64(recipientID), body, at.UnixMicro())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id uint64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+messageJoins+` WHERE m.id = ?`, int64(id))
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageBody replaces the body of a message in place.
func (s *SQLiteStore) UpdateMessageBody(ctx context.Context, id uint64, body string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rtchat_messages SET body = ? WHERE id = ?
	`, body, int64(id))
	return err
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rtchat_messages WHERE id = ?`, int64(id))
	return err
}

// DeleteAllMessages empties the message log. AUTOINCREMENT keeps ids
// increasing afterwards.
func (s *SQLiteStore) DeleteAllMessages(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rtchat_messages`)
	return err
}

// FetchRecent returns the newest messages, newest first.
func (s *SQLiteStore) FetchRecent(ctx context.Context, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+messageJoins+`
		ORDER BY m.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectSQLiteMessages(rows)
}

// FetchBefore returns messages strictly older than id, newest first.
func (s *SQLiteStore) FetchBefore(ctx context.Context, id uint64, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+messageJoins+`
		WHERE m.id < ?
		ORDER BY m.id DESC
		LIMIT ?
	`, int64(id), limit)
	if err != nil {
		return nil, err
	}
	return collectSQLiteMessages(rows)
}

// PruneOlderThan deletes messages created before cutoff.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rtchat_messages WHERE created_at < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TopPosters returns the users with the most messages in the log.
func (s *SQLiteStore) TopPosters(ctx context.Context, limit int) ([]models.TopPoster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.author_id, COALESCE(u.username, ''), COUNT(*) AS total_messages
		FROM rtchat_messages m
		LEFT JOIN users u ON u.id = m.author_id
		GROUP BY m.author_id, u.username
		ORDER BY total_messages DESC, m.author_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posters := []models.TopPoster{}
	for rows.Next() {
		var p models.TopPoster
		var uid int64
		if err := rows.Scan(&uid, &p.Username, &p.TotalMessages); err != nil {
			return nil, err
		}
		p.UserID = uint64(uid)
		posters = append(posters, p)
	}
	return posters, rows.Err()
}

// UpsertBan creates or replaces the ban for ban.UserID.
func (s *SQLiteStore) UpsertBan(ctx context.Context, ban models.Ban) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rtchat_bans (user_id, reason, banned_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, int64(ban.UserID), ban.Reason, ban.BannedAt.UnixMicro(), ban.ExpiresAt.UnixMicro())
	return err
}

// RemoveBan deletes the ban for userID.
func (s *SQLiteStore) RemoveBan(ctx context.Context, userID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rtchat_bans WHERE user_id = ?`, int64(userID))
	return err
}

// FindBan retrieves the ban row for userID.
func (s *SQLiteStore) FindBan(ctx context.Context, userID uint64) (*models.Ban, error) {
	var reason string
	var bannedAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT reason, banned_at, expires_at FROM rtchat_bans WHERE user_id = ?
	`, int64(userID)).Scan(&reason, &bannedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &models.Ban{
		UserID:    userID,
		Reason:    reason,
		BannedAt:  fromMicros(bannedAt),
		ExpiresAt: fromMicros(expiresAt),
	}, nil
}

// FetchAllBans returns the whole ban table.
func (s *SQLiteStore) FetchAllBans(ctx context.Context) ([]models.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, reason, banned_at, expires_at FROM rtchat_bans ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := []models.Ban{}
	for rows.Next() {
		var uid, bannedAt, expiresAt int64
		var reason string
		if err := rows.Scan(&uid, &reason, &bannedAt, &expiresAt); err != nil {
			return nil, err
		}
		bans = append(bans, models.Ban{
			UserID:    uint64(uid),
			Reason:    reason,
			BannedAt:  fromMicros(bannedAt),
			ExpiresAt: fromMicros(expiresAt),
		})
	}
	return bans, rows.Err()
}

// PruneExpiredBans deletes bans with expires_at <= now.
func (s *SQLiteStore) PruneExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rtchat_bans WHERE expires_at <= ?`, now.UnixMicro())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetUserByID retrieves a forum user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, int64(id))
}

// GetUserByUsername retrieves a forum user by name, ignoring case.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = ? COLLATE NOCASE`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, avatar, usergroup, postnum FROM users `+where, arg).Scan(
		&id,
		&user.Username,
		&user.Avatar,
		&user.Group,
		&user.PostCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uint64(id)
	return user, nil
}

// CreateUser inserts a forum user. Used for seeding development databases.
func (s *SQLiteStore) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, avatar, usergroup, postnum)
		VALUES (?, ?, ?, ?)
	`, user.Username, user.Avatar, user.Group, user.PostCount)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	user.ID = uint64(id)
	return &user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var id, author, recipient, createdAt int64
	err := row.Scan(
		&id,
		&author,
		&recipient,
		&msg.Body,
		&createdAt,
		&msg.AuthorName,
		&msg.AuthorAvatar,
		&msg.RecipientName,
	)
	if err != nil {
		return msg, err
	}
	msg.ID = uint64(id)
	msg.AuthorID = uint64(author)
	msg.RecipientID = uint64(recipient)
	msg.CreatedAt = fromMicros(createdAt)
	return msg, nil
}

func collectSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Timestamps are stored as Unix microseconds, the precision of the
// Postgres timestamptz columns.
func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
