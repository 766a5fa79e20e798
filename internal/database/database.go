package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job or article id is unknown.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection. Immediate
	// transactions take the write lock up front so busy_timeout covers them.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath, now: time.Now}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// SetClock overrides the time source used for timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Ping checks the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM jobs WHERE status = 'pending'", &s.PendingJobs},
		{"SELECT COUNT(*) FROM jobs WHERE status = 'processing'", &s.ProcessingJobs},
		{"SELECT COUNT(*) FROM jobs WHERE status = 'completed'", &s.CompletedJobs},
		{"SELECT COUNT(*) FROM jobs WHERE status = 'failed'", &s.FailedJobs},
		{"SELECT COUNT(*) FROM articles", &s.Articles},
		{"SELECT COUNT(*) FROM articles WHERE published = 1", &s.PublishedArticles},
		{"SELECT COUNT(*) FROM scrape_results", &s.ScrapeResults},
	}

	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
