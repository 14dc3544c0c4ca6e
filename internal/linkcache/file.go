package linkcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"
)

// FileStore keeps the whole mapping in memory and rewrites a flat JSON
// object on disk for every new entry.
type FileStore struct {
	path string

	// writeMu serializes Put. An entry is committed under mu only after the
	// snapshot containing it is on disk, so mu is never held across I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries map[string]string

	writeFile func(path string, data []byte) error
}

// Load materializes the store from path. A missing file yields an empty
// store; a malformed one is logged, left untouched, and also yields an empty
// store. Any other read failure is returned.
func Load(path string) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		entries:   make(map[string]string),
		writeFile: writeFileAtomic,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		util.Info("Link cache file not found, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read link cache %s", path)
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		util.Warn("Link cache file is malformed, starting empty", "path", path, "err", err)
		return s, nil
	}
	if entries != nil {
		s.entries = entries
	}

	util.Info("Link cache loaded", "path", path, "entries", len(s.entries))
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Get implements Store.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put implements Store. On a persistence failure the in-memory mapping is
// left unchanged and a *PersistError is returned.
func (s *FileStore) Put(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if prev, ok := s.entries[key]; ok && prev == value {
		s.mu.RUnlock()
		return nil
	}
	snapshot := make(map[string]string, len(s.entries)+1)
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	snapshot[key] = value

	if err := s.persist(snapshot); err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()

	util.Debug("Link cache saved", "path", s.path, "entries", len(snapshot))
	return nil
}

// Len implements Store.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store. Every Put is already durable.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) persist(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	if err := s.writeFile(s.path, append(data, '\n')); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// over path, so a crash mid-write leaves the previous file intact.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create cache directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace cache file")
	}
	return nil
}
