//go:build cgo

package linkcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "links.db")

	store, err := OpenSQLite(dbPath)
	require.NoError(t, err)

	_, ok := store.Get("https://site/ep/1")
	assert.False(t, ok)

	require.NoError(t, store.Put("https://site/ep/1", "https://cdn/a.mp4"))
	require.NoError(t, store.Put("https://site/ep/1", "https://cdn/a2.mp4"))
	assert.Equal(t, 1, store.Len())
	require.NoError(t, store.Close())

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	reopened, err := Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Logf("Error closing store: %v", err)
		}
	}()

	v, ok := reopened.Get("https://site/ep/1")
	require.True(t, ok)
	assert.Equal(t, "https://cdn/a2.mp4", v)
}
