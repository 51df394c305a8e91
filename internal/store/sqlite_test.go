package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository {
		repo, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
		require.NoError(t, err)
		t.Cleanup(repo.Close)
		return repo
	})
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chat.db")

	repo, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	_, err = repo.InsertMessage(ctx, 1, 0, "persisted", time.Unix(1700000000, 0))
	require.NoError(t, err)
	repo.Close()

	repo, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	recent, err := repo.FetchRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "persisted", recent[0].Body)
	require.Empty(t, recent[0].AuthorName)
}
