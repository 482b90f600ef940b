// Package store persists items, their materialized occurrences and a
// completion log in sqlite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	appLog "schedline/internal/log"
)

//go:embed schema.sql
var schema string

// occurrenceLayout stores occurrence times as local wall clock so that
// range queries are plain string comparisons.
const occurrenceLayout = "20060102T150405"

// ErrNotFound is returned when an item id does not exist.
var ErrNotFound = errors.New("item not found")

// Options configures a Store.
type Options struct {
	// Location is the zone occurrence wall-clock times are stored in. If
	// nil, time.Local is used.
	Location *time.Location
	// Now stamps created/updated times. If nil, time.Now is used.
	Now func() time.Time
}

type Store struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	s := &Store{db: db, loc: opts.Location, now: opts.Now}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	appLog.Debug("store: opened", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Location is the zone occurrences are stored in.
func (s *Store) Location() *time.Location { return s.loc }

// withTx runs fn in a transaction, rolling back when it fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func nullStamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatStamp(*t)
}

func scanStamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseStamp(ns.String)
	if err != nil {
		return nil, errors.Wrapf(err, "parse timestamp %q", ns.String)
	}
	return &t, nil
}
