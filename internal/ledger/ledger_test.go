package ledger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestRecordAndSeen(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "user@example.com", "/photos/2024/IMG_0001.JPG", 1851)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Record(ctx, "user@example.com", "/photos/2024/IMG_0001.JPG", "asset-1", 1851))

	seen, err = s.Seen(ctx, "user@example.com", "/photos/2024/IMG_0001.JPG", 1851)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeenSizeMismatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 100))

	seen, err := s.Seen(ctx, "u", "/p/a.jpg", 999)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecordUpsertsExistingPath(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 100))
	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 200))

	seen, err := s.Seen(ctx, "u", "/p/a.jpg", 200)
	require.NoError(t, err)
	assert.True(t, seen)

	count, err := s.Count(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAccountsAreIsolated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "alice", "/p/a.jpg", "asset-1", 100))

	seen, err := s.Seen(ctx, "bob", "/p/a.jpg", 100)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestForget(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 100))
	require.NoError(t, s.Forget(ctx, "u", "/p/a.jpg"))

	seen, err := s.Seen(ctx, "u", "/p/a.jpg", 100)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestForgetAssetRemovesAllVariants(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 100))
	require.NoError(t, s.Record(ctx, "u", "/p/a-medium.jpg", "asset-1", 50))
	require.NoError(t, s.Record(ctx, "u", "/p/b.jpg", "asset-2", 300))

	require.NoError(t, s.ForgetAsset(ctx, "u", "asset-1"))

	count, err := s.Count(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	seen, err := s.Seen(ctx, "u", "/p/b.jpg", 300)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestClear(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 100))
	require.NoError(t, s.Record(ctx, "u", "/p/b.jpg", "asset-2", 200))
	require.NoError(t, s.Record(ctx, "other", "/p/c.jpg", "asset-3", 300))

	require.NoError(t, s.Clear(ctx, "u"))

	count, err := s.Count(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.Count(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	s, err := Open(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, "u", "/p/a.jpg", "asset-1", 100))
	require.NoError(t, s.Close())

	s, err = Open(dbPath, logger)
	require.NoError(t, err)
	defer s.Close()

	seen, err := s.Seen(ctx, "u", "/p/a.jpg", 100)
	require.NoError(t, err)
	assert.True(t, seen)
}
