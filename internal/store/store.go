// Package store provides SQLite-backed persistence for closed intervals.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	_ "modernc.org/sqlite"
)

var (
	// ErrStorageUnavailable wraps every failure to open, read or write the medium.
	ErrStorageUnavailable = errors.New("interval storage unavailable")

	// ErrClosed is returned by operations on a closed store or writer.
	ErrClosed = errors.New("store closed")

	// ErrOpenInterval is returned when appending an interval that is still open.
	ErrOpenInterval = errors.New("interval is still open")
)

// Store is a durable, start-ordered collection of closed intervals.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New creates a new Store at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, unavailable("create db directory", err)
	}

	// Every mutation must be on disk before it returns.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open db", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	return s, nil
}

// Close closes the database connection. It is safe to call more than once
// and on a nil store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intervals (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intervals_start ON intervals(start_ns, seq);
	CREATE INDEX IF NOT EXISTS idx_intervals_end ON intervals(end_ns);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append durably records a closed interval. An interval whose id is already
// stored is ignored.
func (s *Store) Append(ctx context.Context, iv *models.Interval) error {
	if !iv.Closed {
		return ErrOpenInterval
	}
	if err := iv.Validate(); err != nil {
		return fmt.Errorf("validate interval: %w", err)
	}

	data, err := json.Marshal(iv)
	if err != nil {
		return fmt.Errorf("marshal interval: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("append interval", ErrClosed)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO intervals (id, type, start_ns, end_ns, data) VALUES (?, ?, ?, ?, ?)`,
		iv.ID, string(iv.Type), iv.Start.UnixNano(), iv.End.UnixNano(), string(data),
	)
	if err != nil {
		return unavailable("insert interval", err)
	}
	return nil
}

// ReadAll returns every stored interval ordered by start time. Intervals
// with equal starts keep their insertion order.
func (s *Store) ReadAll(ctx context.Context) ([]models.Interval, error) {
	return s.query(ctx, `SELECT data FROM intervals ORDER BY start_ns ASC, seq ASC`)
}

// ReadSince returns intervals that end at or after since, ordered by start.
func (s *Store) ReadSince(ctx context.Context, since time.Time) ([]models.Interval, error) {
	return s.query(ctx, `SELECT data FROM intervals WHERE end_ns >= ? ORDER BY start_ns ASC, seq ASC`, since.UnixNano())
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]models.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, unavailable("read intervals", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query intervals", err)
	}
	defer rows.Close()

	var intervals []models.Interval
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, unavailable("scan interval", err)
		}
		var iv models.Interval
		if err := json.Unmarshal([]byte(data), &iv); err != nil {
			return nil, fmt.Errorf("decode interval: %w", err)
		}
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate intervals", err)
	}
	return intervals, nil
}

// RemoveMany deletes the given intervals by id in a single transaction and
// returns how many records were removed.
func (s *Store) RemoveMany(ctx context.Context, intervals []models.Interval) (int, error) {
	if len(intervals) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, unavailable("remove intervals", ErrClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM intervals WHERE id = ?`)
	if err != nil {
		return 0, unavailable("prepare delete", err)
	}
	defer stmt.Close()

	removed := 0
	for _, iv := range intervals {
		result, err := stmt.ExecContext(ctx, iv.ID)
		if err != nil {
			return 0, unavailable("delete interval", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, unavailable("check rows affected", err)
		}
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit transaction", err)
	}
	return removed, nil
}

// Size returns the number of stored intervals.
func (s *Store) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, unavailable("count intervals", ErrClosed)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intervals`).Scan(&n); err != nil {
		return 0, unavailable("count intervals", err)
	}
	return n, nil
}

// Clear removes every stored interval.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("clear intervals", ErrClosed)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM intervals`); err != nil {
		return unavailable("clear intervals", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
