package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists letters to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a dead-letter database.
// The path should be a file path (e.g., "./deadletters.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A :memory: database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			reason TEXT NOT NULL,
			stream TEXT NOT NULL,
			message_id TEXT NOT NULL,
			group_name TEXT NOT NULL,
			consumer TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			handler TEXT NOT NULL,
			error TEXT NOT NULL,
			record TEXT NOT NULL,
			failed_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_reason
		ON dead_letters(reason)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// Put implements Store. Putting an existing ID replaces the letter.
func (s *SQLiteStore) Put(ctx context.Context, l *Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if l.ID == "" {
		l.ID = newID()
	}

	record, err := json.Marshal(l.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters
			(id, reason, stream, message_id, group_name, consumer, event_id, event_type, handler, error, record, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reason = excluded.reason,
			handler = excluded.handler,
			error = excluded.error,
			failed_at = excluded.failed_at
	`, l.ID, string(l.Reason), l.Stream, l.MessageID, l.Group, l.Consumer,
		l.EventID, l.EventType, l.Handler, l.Error, string(record),
		l.FailedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

const selectLetters = `
	SELECT id, reason, stream, message_id, group_name, consumer, event_id, event_type, handler, error, record, failed_at
	FROM dead_letters`

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Letter, error) {
	return s.query(ctx, selectLetters+` ORDER BY seq LIMIT ?`, sqlLimit(limit))
}

// ListByReason implements Store.
func (s *SQLiteStore) ListByReason(ctx context.Context, reason Reason, limit int) ([]*Letter, error) {
	return s.query(ctx, selectLetters+` WHERE reason = ? ORDER BY seq LIMIT ?`, string(reason), sqlLimit(limit))
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]*Letter, 0)
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	l, err := scanLetter(s.db.QueryRowContext(ctx, selectLetters+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLetter(row rowScanner) (*Letter, error) {
	var (
		l        Letter
		reason   string
		record   string
		failedAt string
	)
	err := row.Scan(&l.ID, &reason, &l.Stream, &l.MessageID, &l.Group, &l.Consumer,
		&l.EventID, &l.EventType, &l.Handler, &l.Error, &record, &failedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}

	l.Reason = Reason(reason)
	if err := json.Unmarshal([]byte(record), &l.Record); err != nil {
		return nil, fmt.Errorf("decode record of %s: %w", l.ID, err)
	}
	l.FailedAt, _ = time.Parse(time.RFC3339Nano, failedAt)
	return &l, nil
}

// sqlLimit maps "no limit" to SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
