// Package linkcache persists resolved video links keyed by episode page URL.
//
// Keys are used verbatim: no normalization, case-sensitive. Entries never
// expire; a key is absent until its first successful resolution.
package linkcache

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPersist marks a write that could not be made durable. The in-memory
	// view is rolled back before it is returned.
	ErrPersist = errors.New("link cache persistence failed")

	ErrCgoDisabled    = errors.New("CGO disabled: sqlite link cache not available")
	ErrUnknownBackend = errors.New("unknown link cache backend")
)

// Store is a write-through mapping from episode page URL to direct media URL.
type Store interface {
	// Get returns the cached media URL for key.
	Get(key string) (string, bool)
	// Put records value for key and returns only once it is durable.
	Put(key, value string) error
	// Len reports the number of cached links.
	Len() int
	Close() error
}

// PersistError wraps the I/O failure behind an ErrPersist.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist link cache to %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersist }

// Open returns the Store for the configured backend: "json" (default) or "sqlite".
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "json":
		s, err := Load(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
	}
}
