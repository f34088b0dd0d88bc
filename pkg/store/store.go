package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config contains configuration for the SQLite store.
type Config struct {
	// Path is the database file path.
	Path string

	// Driver is the database/sql driver name. The gateway and control plane
	// register "sqlite3" (mattn); the bridge registers "sqlite" (modernc) so
	// it stays cgo-free as a sibling process. Both speak the same file.
	Driver string

	// BusyTimeout is how long a connection waits on a locked database.
	// Default: 5 seconds.
	BusyTimeout time.Duration

	// MaxReaders bounds the reader connection pool. Default: 8.
	MaxReaders int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:        path,
		Driver:      "sqlite3",
		BusyTimeout: 5 * time.Second,
		MaxReaders:  8,
	}
}

// Store is the SQLite-backed persistence layer shared by the three
// processes. Mutations funnel through a single writer connection; reads go
// through a small reader pool (WAL allows concurrent readers alongside the
// writer). Cross-process coordination relies on WAL plus the busy timeout.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at cfg.Path and applies
// the connection pragmas. It does not run migrations; see Migrate.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store: nil config")
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxReaders == 0 {
		cfg.MaxReaders = 8
	}

	logger := slog.Default().With("component", "store")

	writer, err := openDB(cfg, 1)
	if err != nil {
		return nil, fmt.Errorf("store: open writer: %w", err)
	}

	reader, err := openDB(cfg, cfg.MaxReaders)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: open reader: %w", err)
	}

	logger.Info("store opened",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"busy_timeout", cfg.BusyTimeout.String(),
	)

	return &Store{writer: writer, reader: reader, path: cfg.Path, logger: logger}, nil
}

// openDB opens one pool with the standard pragmas applied.
func openDB(cfg *Config, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", strings.TrimSpace(pragma), err)
		}
	}
	return db, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// nowMS returns the current time as integer milliseconds since epoch, the
// unit used for every timestamp column.
func nowMS() int64 {
	return time.Now().UnixMilli()
}

// isBusy reports whether err is a transient SQLITE_BUSY/locked failure.
// The check is textual because two different drivers are in play.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// exec runs a mutation on the writer connection, retrying once on a
// transient busy error before surfacing it.
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.writer.ExecContext(ctx, query, args...)
	if isBusy(err) {
		s.logger.Warn("write hit SQLITE_BUSY, retrying once")
		res, err = s.writer.ExecContext(ctx, query, args...)
	}
	return res, err
}

// withTx runs fn inside a writer transaction, retrying the whole
// transaction once on a transient busy error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.runTx(ctx, fn)
	if isBusy(err) {
		s.logger.Warn("transaction hit SQLITE_BUSY, retrying once")
		err = s.runTx(ctx, fn)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
