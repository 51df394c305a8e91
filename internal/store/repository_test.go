package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/rtchat/internal/models"
)

// runRepositoryTests exercises the Repository contract against a fresh,
// empty database.
func runRepositoryTests(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("users", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		alice, err := repo.CreateUser(ctx, models.User{Username: "Alice", Group: 2, PostCount: 12})
		require.NoError(t, err)
		require.NotZero(t, alice.ID)

		byID, err := repo.GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, "Alice", byID.Username)
		require.Equal(t, 12, byID.PostCount)

		byName, err := repo.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, byName)
		require.Equal(t, alice.ID, byName.ID)

		missing, err := repo.GetUserByUsername(ctx, "nobody")
		require.NoError(t, err)
		require.Nil(t, missing)
	})

	t.Run("messages", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		alice, err := repo.CreateUser(ctx, models.User{Username: "alice", Avatar: "a.png"})
		require.NoError(t, err)
		bob, err := repo.CreateUser(ctx, models.User{Username: "bob"})
		require.NoError(t, err)

		var ids []uint64
		for i := 0; i < 5; i++ {
			id, err := repo.InsertMessage(ctx, alice.ID, 0, "hello", base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		whisperID, err := repo.InsertMessage(ctx, alice.ID, bob.ID, "psst", base.Add(10*time.Minute))
		require.NoError(t, err)
		require.Greater(t, whisperID, ids[len(ids)-1])

		msg, err := repo.GetMessage(ctx, whisperID)
		require.NoError(t, err)
		require.Equal(t, "alice", msg.AuthorName)
		require.Equal(t, "a.png", msg.AuthorAvatar)
		require.Equal(t, "bob", msg.RecipientName)
		require.True(t, msg.CreatedAt.Equal(base.Add(10*time.Minute)))

		recent, err := repo.FetchRecent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		require.Equal(t, whisperID, recent[0].ID)
		require.Equal(t, ids[4], recent[1].ID)
		require.Equal(t, ids[3], recent[2].ID)

		before, err := repo.FetchBefore(ctx, ids[3], 10)
		require.NoError(t, err)
		require.Len(t, before, 3)
		require.Equal(t, ids[2], before[0].ID)
		require.Equal(t, ids[0], before[2].ID)

		none, err := repo.FetchBefore(ctx, ids[0], 10)
		require.NoError(t, err)
		require.Empty(t, none)

		require.NoError(t, repo.UpdateMessageBody(ctx, ids[0], "edited"))
		edited, err := repo.GetMessage(ctx, ids[0])
		require.NoError(t, err)
		require.Equal(t, "edited", edited.Body)
		require.True(t, edited.CreatedAt.Equal(base))

		require.NoError(t, repo.DeleteMessage(ctx, ids[0]))
		gone, err := repo.GetMessage(ctx, ids[0])
		require.NoError(t, err)
		require.Nil(t, gone)

		pruned, err := repo.PruneOlderThan(ctx, base.Add(3*time.Minute))
		require.NoError(t, err)
		require.EqualValues(t, 2, pruned)

		require.NoError(t, repo.DeleteAllMessages(ctx))
		recent, err = repo.FetchRecent(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, recent)

		// Ids are never reused after a clear.
		next, err := repo.InsertMessage(ctx, bob.ID, 0, "again", base.Add(time.Hour))
		require.NoError(t, err)
		require.Greater(t, next, whisperID)
	})

	t.Run("top posters", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()

		alice, err := repo.CreateUser(ctx, models.User{Username: "alice"})
		require.NoError(t, err)
		bob, err := repo.CreateUser(ctx, models.User{Username: "bob"})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := repo.InsertMessage(ctx, bob.ID, 0, "hi", now)
			require.NoError(t, err)
		}
		_, err = repo.InsertMessage(ctx, alice.ID, 0, "hi", now)
		require.NoError(t, err)

		top, err := repo.TopPosters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, top, 2)
		require.Equal(t, bob.ID, top[0].UserID)
		require.Equal(t, "bob", top[0].Username)
		require.EqualValues(t, 3, top[0].TotalMessages)
		require.Equal(t, alice.ID, top[1].UserID)
	})

	t.Run("bans", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		missing, err := repo.FindBan(ctx, 7)
		require.NoError(t, err)
		require.Nil(t, missing)

		require.NoError(t, repo.UpsertBan(ctx, models.Ban{
			UserID: 7, Reason: "spam", BannedAt: now, ExpiresAt: now.Add(10 * time.Minute),
		}))
		require.NoError(t, repo.UpsertBan(ctx, models.Ban{
			UserID: 7, Reason: "more spam", BannedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
		require.NoError(t, repo.UpsertBan(ctx, models.Ban{
			UserID: 8, Reason: "old", BannedAt: now.Add(-time.Hour), ExpiresAt: now,
		}))

		ban, err := repo.FindBan(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, "more spam", ban.Reason)
		require.True(t, ban.ExpiresAt.Equal(now.Add(time.Hour)))

		all, err := repo.FetchAllBans(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		pruned, err := repo.PruneExpiredBans(ctx, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, pruned)

		require.NoError(t, repo.RemoveBan(ctx, 7))
		all, err = repo.FetchAllBans(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("timestamps keep microseconds", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		at := time.Date(2024, 3, 1, 12, 0, 0, 900_123_000, time.UTC)

		id, err := repo.InsertMessage(ctx, 1, 0, "precise", at)
		require.NoError(t, err)
		msg, err := repo.GetMessage(ctx, id)
		require.NoError(t, err)
		require.True(t, msg.CreatedAt.Equal(at), msg.CreatedAt)

		pruned, err := repo.PruneOlderThan(ctx, at)
		require.NoError(t, err)
		require.Zero(t, pruned)

		require.NoError(t, repo.UpsertBan(ctx, models.Ban{UserID: 3, BannedAt: at, ExpiresAt: at.Add(time.Minute)}))
		ban, err := repo.FindBan(ctx, 3)
		require.NoError(t, err)
		require.True(t, ban.ExpiresAt.Equal(at.Add(time.Minute)), ban.ExpiresAt)

		pruned, err = repo.PruneExpiredBans(ctx, at.Add(time.Minute-time.Microsecond))
		require.NoError(t, err)
		require.Zero(t, pruned)
	})
}
