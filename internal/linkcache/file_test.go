package linkcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_link_cache.json")

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "Load must not create the file")
}

func TestLoadMalformedFileStartsEmptyAndLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_link_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestLoadWrongValueTypeStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_link_cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": "x", "b": 3}`), 0o644))

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestPutIsDurableAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "video_link_cache.json")

	store, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("https://site/ep/2", "https://cdn/b.mp4"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	v, ok := reloaded.Get("https://site/ep/2")
	require.True(t, ok)
	assert.Equal(t, "https://cdn/b.mp4", v)

	var onDisk map[string]string
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, map[string]string{"https://site/ep/2": "https://cdn/b.mp4"}, onDisk)
}

func TestKeysAreCaseSensitive(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)

	require.NoError(t, store.Put("https://site/EP/1", "https://cdn/upper.mp4"))
	_, ok := store.Get("https://site/ep/1")
	assert.False(t, ok)
}

func TestLastWriteWins(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)

	require.NoError(t, store.Put("k", "v1"))
	require.NoError(t, store.Put("k", "v2"))

	v, _ := store.Get("k")
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, store.Len())
}

func TestPutPersistFailureLeavesMemoryUnchanged(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put("existing", "old"))

	diskErr := errors.New("disk full")
	store.writeFile = func(string, []byte) error { return diskErr }

	err = store.Put("new", "value")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))
	assert.True(t, errors.Is(err, diskErr))
	_, ok := store.Get("new")
	assert.False(t, ok, "failed insert must not be visible")

	err = store.Put("existing", "changed")
	require.Error(t, err)
	v, _ := store.Get("existing")
	assert.Equal(t, "old", v, "failed overwrite must keep the previous value")
}

func TestGetDoesNotWaitForPersist(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put("https://site/ep/1", "https://cdn/a.mp4"))

	writing := make(chan struct{})
	release := make(chan struct{})
	store.writeFile = func(path string, data []byte) error {
		close(writing)
		<-release
		return writeFileAtomic(path, data)
	}

	done := make(chan error, 1)
	go func() { done <- store.Put("https://site/ep/2", "https://cdn/b.mp4") }()
	<-writing

	start := time.Now()
	v, ok := store.Get("https://site/ep/1")
	elapsed := time.Since(start)
	require.True(t, ok)
	assert.Equal(t, "https://cdn/a.mp4", v)
	assert.Less(t, elapsed, 50*time.Millisecond, "Get waited on the disk write")

	_, ok = store.Get("https://site/ep/2")
	assert.False(t, ok, "entry must not be visible before it is on disk")
	assert.Equal(t, 1, store.Len())

	close(release)
	require.NoError(t, <-done)
	v, ok = store.Get("https://site/ep/2")
	require.True(t, ok)
	assert.Equal(t, "https://cdn/b.mp4", v)
}

func TestPutSameValueSkipsWrite(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put("k", "v"))

	writes := 0
	store.writeFile = func(string, []byte) error { writes++; return nil }
	require.NoError(t, store.Put("k", "v"))
	assert.Equal(t, 0, writes)
}

func TestConcurrentPutsKeepFileConsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	store, err := Load(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "https://site/ep/" + strconv.Itoa(i)
			assert.NoError(t, store.Put(key, key+".mp4"))
			_, _ = store.Get(key)
		}(i)
	}
	wg.Wait()

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, reloaded.Len())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("redis", filepath.Join(t.TempDir(), "c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
