// Package storage opens the shared SQLite database and provides the small
// transaction helper the repositories compose over.
//
// WAL mode is enabled so readers never block the writer. The pool is pinned
// to a single connection: SQLite performs best with one writer, and the
// single writer is also what serialises concurrent status mutations — it is
// this module's equivalent of a row-level lock.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver; no CGO, builds cleanly in Alpine images.
	_ "modernc.org/sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repository methods can
// run standalone or inside a caller-owned transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the database at path and configures the pragmas.
// _txlock=immediate makes every transaction take the write lock up front,
// which turns concurrent mutation attempts into waiters instead of
// SQLITE_BUSY failures mid-transaction.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	return db, nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. Used to couple a status mutation with its outbox event so both are
// durable or neither is.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}
