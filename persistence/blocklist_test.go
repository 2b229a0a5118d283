package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBlocklist(t *testing.T) *SQLiteBlocklist {
	t.Helper()
	store, err := NewSQLiteBlocklist(filepath.Join(t.TempDir(), "blocklist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBlocklistBlocksExactURL(t *testing.T) {
	store := openBlocklist(t)
	ctx := context.Background()

	blocked, err := store.Blocked(ctx, "https://example.com/captcha-wall")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, store.Block(ctx, "https://example.com/captcha-wall", "hard-block phrases"))

	blocked, err = store.Blocked(ctx, "https://example.com/captcha-wall")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Normalization: fragment and trailing slash do not evade the block.
	blocked, err = store.Blocked(ctx, "https://EXAMPLE.com/captcha-wall/#top")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Sibling pages on the same host stay reachable.
	blocked, err = store.Blocked(ctx, "https://example.com/articles/fine")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlocklistEscalatesToHost(t *testing.T) {
	store := openBlocklist(t)
	ctx := context.Background()

	for _, path := range []string{"/a", "/b", "/c"} {
		require.NoError(t, store.Block(ctx, "https://spamfarm.example"+path, "content too short"))
	}

	blocked, err := store.Blocked(ctx, "https://spamfarm.example/new-page")
	require.NoError(t, err)
	assert.True(t, blocked, "host with %d blocked URLs is rejected wholesale", hostBlockThreshold)

	reasons, err := store.Reasons(ctx, "spamfarm.example")
	require.NoError(t, err)
	assert.Len(t, reasons, 3)
}

func TestBlocklistSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.db")
	ctx := context.Background()

	store, err := NewSQLiteBlocklist(path)
	require.NoError(t, err)
	require.NoError(t, store.Block(ctx, "https://example.org/bad", "too few real sentences"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteBlocklist(path)
	require.NoError(t, err)
	defer reopened.Close()

	blocked, err := reopened.Blocked(ctx, "https://example.org/bad")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestBlocklistUnparseableURL(t *testing.T) {
	store := openBlocklist(t)
	ctx := context.Background()

	blocked, err := store.Blocked(ctx, "not a url at all")
	require.NoError(t, err)
	assert.True(t, blocked, "unscrapeable URLs are treated as blocked")

	assert.Error(t, store.Block(ctx, "   ", "whatever"))
}
