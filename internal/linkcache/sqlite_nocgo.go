//go:build !cgo

package linkcache

// IsCgoEnabled reports whether the sqlite backend was compiled in.
const IsCgoEnabled = false

// SQLiteStore is unavailable without cgo.
type SQLiteStore struct{}

// OpenSQLite always fails when built with CGO_ENABLED=0.
func OpenSQLite(path string) (*SQLiteStore, error) {
	return nil, ErrCgoDisabled
}

func (s *SQLiteStore) Get(string) (string, bool) { return "", false }
func (s *SQLiteStore) Put(string, string) error  { return ErrCgoDisabled }
func (s *SQLiteStore) Len() int                  { return 0 }
func (s *SQLiteStore) Close() error              { return nil }
