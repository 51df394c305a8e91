package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/rtchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations creates the chat tables if they do not exist yet.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	schema, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	if _, err := conn.Exec(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertMessage appends a message and returns its id.
func (s *PostgresStore) InsertMessage(ctx context.Context, authorID, recipientID uint64, body string, at time.Time) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rtchat_messages (author_id, recipient_id, body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, int64(authorID), int64(recipientID), body, at.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetMessage retrieves a message by id.
func (s *PostgresStore) GetMessage(ctx context.Context, id uint64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+messageJoins+` WHERE m.id = $1`, int64(id))
	msg, err := scanPgMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageBody replaces the body of a message in place.
func (s *PostgresStore) UpdateMessageBody(ctx context.Context, id uint64, body string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rtchat_messages SET body = $1 WHERE id = $2
	`, body, int64(id))
	return err
}

// DeleteMessage removes a message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rtchat_messages WHERE id = $1`, int64(id))
	return err
}

// DeleteAllMessages empties the message log. Ids keep increasing afterwards.
func (s *PostgresStore) DeleteAllMessages(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rtchat_messages`)
	return err
}

// FetchRecent returns the newest messages, newest first.
func (s *PostgresStore) FetchRecent(ctx context.Context, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+messageJoins+`
		ORDER BY m.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectPgMessages(rows)
}

// FetchBefore returns messages strictly older than id, newest first.
func (s *PostgresStore) FetchBefore(ctx context.Context, id uint64, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+messageJoins+`
		WHERE m.id < $1
		ORDER BY m.id DESC
		LIMIT $2
	`, int64(id), limit)
	if err != nil {
		return nil, err
	}
	return collectPgMessages(rows)
}

// PruneOlderThan deletes messages created before cutoff.
func (s *PostgresStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rtchat_messages WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TopPosters returns the users with the most messages in the log.
func (s *PostgresStore) TopPosters(ctx context.Context, limit int) ([]models.TopPoster, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.author_id, COALESCE(u.username, ''), COUNT(*) AS total_messages
		FROM rtchat_messages m
		LEFT JOIN users u ON u.id = m.author_id
		GROUP BY m.author_id, u.username
		ORDER BY total_messages DESC
		LIMIT $1
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
func (s *PostgresStore) UpsertBan(ctx context.Context, ban models.Ban) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rtchat_bans (user_id, reason, banned_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET reason = EXCLUDED.reason, banned_at = EXCLUDED.banned_at, expires_at = EXCLUDED.expires_at
	`, int64(ban.UserID), ban.Reason, ban.BannedAt.UTC(), ban.ExpiresAt.UTC())
	return err
}

// RemoveBan deletes the ban for userID.
func (s *PostgresStore) RemoveBan(ctx context.Context, userID uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rtchat_bans WHERE user_id = $1`, int64(userID))
	return err
}

// FindBan retrieves the ban row for userID.
func (s *PostgresStore) FindBan(ctx context.Context, userID uint64) (*models.Ban, error) {
	ban := &models.Ban{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT reason, banned_at, expires_at FROM rtchat_bans WHERE user_id = $1
	`, int64(userID)).Scan(&ban.Reason, &ban.BannedAt, &ban.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ban, nil
}

// FetchAllBans returns the whole ban table.
func (s *PostgresStore) FetchAllBans(ctx context.Context) ([]models.Ban, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, reason, banned_at, expires_at FROM rtchat_bans ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := []models.Ban{}
	for rows.Next() {
		var ban models.Ban
		var uid int64
		if err := rows.Scan(&uid, &ban.Reason, &ban.BannedAt, &ban.ExpiresAt); err != nil {
			return nil, err
		}
		ban.UserID = uint64(uid)
		bans = append(bans, ban)
	}
	return bans, rows.Err()
}

// PruneExpiredBans deletes bans with expires_at <= now.
func (s *PostgresStore) PruneExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rtchat_bans WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetUserByID retrieves a forum user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, int64(id))
}

// GetUserByUsername retrieves a forum user by name, ignoring case.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE LOWER(username) = LOWER($1)`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, avatar, usergroup, postnum FROM users `+where, arg).Scan(
		&id,
		&user.Username,
		&user.Avatar,
		&user.Group,
		&user.PostCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uint64(id)
	return user, nil
}

// CreateUser inserts a forum user. Used for seeding development databases.
func (s *PostgresStore) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, avatar, usergroup, postnum)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, user.Username, user.Avatar, user.Group, user.PostCount).Scan(&id)
	if err != nil {
		return nil, err
	}
	user.ID = uint64(id)
	return &user, nil
}

func scanPgMessage(row pgx.Row) (models.Message, error) {
	var msg models.Message
	var id, author, recipient int64
	err := row.Scan(
		&id,
		&author,
		&recipient,
		&msg.Body,
		&msg.CreatedAt,
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
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func collectPgMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
