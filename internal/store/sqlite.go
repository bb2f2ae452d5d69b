package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS seen_events (
		event_id     TEXT PRIMARY KEY,
		processed_at TIMESTAMP NOT NULL
	)`

// SQLite is a seen store backed by an embedded SQLite database, so dedup
// state survives restarts. Rows are never deleted; dropping one would
// re-open its event to double-posting.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at path, creating the file and schema if
// needed. The caller should call Close when the store is no longer needed.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps the embedded driver away from SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Contains reports whether the event ID has been committed.
func (s *SQLite) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_events WHERE event_id = ?`, id,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen event: %w", err)
	}
	return true, nil
}

// Commit records the event ID, returning domain.ErrAlreadySeen if a
// previous commit already recorded it.
func (s *SQLite) Commit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (event_id, processed_at)
		VALUES (?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert seen event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAlreadySeen
	}
	return nil
}

// Count returns the number of committed IDs.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen events: %w", err)
	}
	return n, nil
}
