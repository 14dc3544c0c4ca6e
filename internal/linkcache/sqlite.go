//go:build cgo

package linkcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// IsCgoEnabled reports whether the sqlite backend was compiled in.
const IsCgoEnabled = true

const (
	busyTimeout       = 5000 // ms
	walAutoCheckpoint = 1000 // pages
	maxOpenConns      = 4
	maxIdleConns      = 2
)

// SQLiteStore keeps links in a single-table SQLite database. Every Put is a
// committed upsert, so it is durable when it returns.
type SQLiteStore struct {
	path     string
	db       *sql.DB
	upsertPS *sql.Stmt
	getPS    *sql.Stmt
	countPS  *sql.Stmt
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}

	dsnPath := path
	if runtime.GOOS == "windows" {
		dsnPath = strings.ReplaceAll(path, "\\", "/")
	}
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=FULL&_wal_autocheckpoint=%d&_busy_timeout=%d",
		dsnPath, walAutoCheckpoint, busyTimeout,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS video_links (
		episode_url TEXT    NOT NULL PRIMARY KEY,
		video_url   TEXT    NOT NULL,
		updated_at  INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "schema creation failed")
	}

	s := &SQLiteStore{path: path, db: db}
	if err := s.prepare(); err != nil {
		_ = s.Close()
		return nil, err
	}

	util.Info("Link cache database opened", "path", path, "entries", s.Len())
	return s, nil
}

func (s *SQLiteStore) prepare() error {
	var err error
	s.upsertPS, err = s.db.Prepare(`INSERT INTO video_links (episode_url, video_url, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(episode_url) DO UPDATE SET
			video_url = excluded.video_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		return errors.Wrap(err, "upsert preparation failed")
	}

	s.getPS, err = s.db.Prepare(`SELECT video_url FROM video_links WHERE episode_url = ?`)
	if err != nil {
		return errors.Wrap(err, "get preparation failed")
	}

	s.countPS, err = s.db.Prepare(`SELECT COUNT(*) FROM video_links`)
	if err != nil {
		return errors.Wrap(err, "count preparation failed")
	}
	return nil
}

// Get implements Store. Query failures are logged and reported as a miss.
func (s *SQLiteStore) Get(key string) (string, bool) {
	var v string
	err := s.getPS.QueryRow(key).Scan(&v)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			util.Error("Link cache lookup failed", "url", key, "err", err)
		}
		return "", false
	}
	return v, true
}

// Put implements Store.
func (s *SQLiteStore) Put(key, value string) error {
	if _, err := s.upsertPS.Exec(key, value, time.Now().Unix()); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	return nil
}

// Len implements Store.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.countPS.QueryRow().Scan(&n); err != nil {
		util.Error("Link cache count failed", "err", err)
		return 0
	}
	return n
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	var finalErr error

	closeStmt := func(stmt *sql.Stmt, name string) {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				finalErr = fmt.Errorf("%s statement close error: %w", name, err)
			}
		}
	}
	closeStmt(s.upsertPS, "upsert")
	closeStmt(s.getPS, "get")
	closeStmt(s.countPS, "count")

	if err := s.db.Close(); err != nil {
		finalErr = fmt.Errorf("database close error: %w", err)
	}
	return finalErr
}
