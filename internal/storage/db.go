// Package storage implements the relational persistence layer: schema
// bootstrap and versioned migrations, and typed read/write accessors
// over the resulting tables. It is backed by the pure-Go
// ncruces/go-sqlite3 driver so the engine never needs cgo.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// CurrentSchemaVersion is the engine's required schema version. A project
// row whose current_schema_version differs produces SchemaStatus ReindexRequired.
const CurrentSchemaVersion = 1

// Store wraps a *sql.DB for one project's state.db, providing the
// dedicated-connection + manual-transaction idiom used by every multi-row
// write (BEGIN IMMEDIATE, not database/sql's always-DEFERRED BeginTx).
type Store struct {
	db            *sql.DB
	path          string
	busyTimeoutMs int
}

// DBPath returns the fixed state.db location under a project's data
// directory, a sibling of the base text index and the overlay/ and
// staging/ trees.
func DBPath(dataDir string) string {
	return dataDir + string(os.PathSeparator) + "state.db"
}

// Open opens (creating if absent) the SQLite database at path, applies
// pragmas, runs schema bootstrap + migrations, and returns a ready Store.
func Open(ctx context.Context, path string, busyTimeoutMs, cacheSize int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, cerrors.Wrap("sqlite", "open", err)
	}
	// A single writer connection avoids SQLITE_BUSY storms under the
	// driver's default journal mode; readers share it via WAL.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA cache_size=%d", cacheSize),
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, cerrors.Wrap("sqlite", "pragma", err)
		}
	}

	s := &Store{db: db, path: path, busyTimeoutMs: busyTimeoutMs}
	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for read-only query helpers that don't
// need the transaction idiom.
func (s *Store) DB() *sql.DB { return s.db }

// beginImmediate starts a write transaction with BEGIN IMMEDIATE semantics
// on a dedicated connection, retrying on SQLITE_BUSY with exponential
// backoff. Callers must
// conn.Close() after committing or rolling back.
func (s *Store) beginImmediate(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, cerrors.Wrap("sqlite", "conn", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	bo.InitialInterval = 5 * time.Millisecond

	opErr := backoff.Retry(func() error {
		if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if opErr != nil {
		conn.Close()
		return nil, cerrors.Wrap("sqlite", "begin immediate", opErr)
	}
	return conn, nil
}

func (s *Store) commit(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, "COMMIT")
	return err
}

func (s *Store) rollback(ctx context.Context, conn *sql.Conn) {
	_, _ = conn.ExecContext(ctx, "ROLLBACK")
}

// WithTx runs fn under a single BEGIN IMMEDIATE transaction, passing the
// live connection as an SQLExecer so every accessor call inside fn
// participates in the same transaction. fn's error rolls the transaction
// back and propagates unchanged; otherwise the transaction commits. This is
// the primitive the sync engine uses to stage a file's symbols, edges, file
// manifest row, and vectors atomically.
func (s *Store) WithTx(ctx context.Context, fn func(execer SQLExecer) error) error {
	conn, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		s.rollback(ctx, conn)
		return err
	}
	if err := s.commit(ctx, conn); err != nil {
		s.rollback(ctx, conn)
		return cerrors.Wrap("sqlite", "commit", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return contains(s, "SQLITE_BUSY") || contains(s, "database is locked")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
