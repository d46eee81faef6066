// Package store is the persistence layer for the sync reconciliation core:
// a SQLite-backed local/mirror/staging schema, scoped transactions, and the
// chunked batch insert the Incoming Pipeline uses to stage a server
// delivery. It owns all persistent rows; pipelines borrow a transaction for
// the duration of one sync step and never retain it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Store pins a single *sql.Conn for its entire lifetime rather than letting
// database/sql pool connections. Only one writable connection may be in
// use at a time, and SQLite's TEMP tables (staging, see schema.go) are
// connection-scoped, so a pooled *sql.DB would risk staging rows vanishing
// mid-cycle if a different pooled connection served the next query.
type Store struct {
	db   *sql.DB
	conn *sql.Conn
}

// sqliteOpenMu serializes sql.Open+Ping across Stores. go-sqlite3 is prone
// to spurious "database is locked" errors when two opens of a freshly
// created database race; ensuring one completes before the next starts
// avoids it. This is only needed for SQLite, not other drivers.
var sqliteOpenMu sync.Mutex

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	sqliteOpenMu.Lock()
	db, err := sql.Open("sqlite3", path)
	if err == nil {
		err = db.PingContext(ctx)
	}
	sqliteOpenMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("acquiring connection to %q: %w", path, err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("creating schema in %q: %w", path, err)
	}

	return &Store{db: db, conn: conn}, nil
}

// Close releases the Store's connection. It does not roll back any
// in-flight transaction; callers must do that themselves first.
func (s *Store) Close() error {
	var connErr = s.conn.Close()
	var dbErr = s.db.Close()
	if connErr != nil {
		return fmt.Errorf("closing connection: %w", connErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing database: %w", dbErr)
	}
	return nil
}

// Tx is a scoped reconciliation transaction. Its zero value is not usable;
// obtain one via Store.BeginTx. Rollback is safe to call after Commit (it's
// then a no-op), so callers can unconditionally `defer tx.Rollback()`.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a new transaction on the Store's single connection. No two
// reconciliation transactions may run concurrently on the same Store;
// callers are responsible for sequencing their calls.
func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. It's a no-op if the transaction was
// already committed or rolled back.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}
