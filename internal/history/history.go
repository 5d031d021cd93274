// Package history keeps a local SQLite record of readings and events.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions    = 0750
	connectionTimeout = 5 * time.Second
	busyTimeoutMs     = 5000
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	humidity    REAL NOT NULL,
	temperature REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts);
CREATE TABLE IF NOT EXISTS events (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts     INTEGER NOT NULL,
	kind   TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// Event kinds recorded by the daemon.
const (
	KindMotion = "motion"
	KindKeypad = "keypad"
	KindSystem = "system"
)

// Reading is one stored climate reading.
type Reading struct {
	Time        time.Time `json:"timestamp"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
}

// Event is one stored event.
type Event struct {
	Time   time.Time `json:"timestamp"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Store is a SQLite-backed history.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying history connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// AddReading stores a reading.
func (s *Store) AddReading(ctx context.Context, r Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (ts, humidity, temperature) VALUES (?, ?, ?)`,
		r.Time.UnixNano(), r.Humidity, r.Temperature)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// AddEvent stores an event.
func (s *Store) AddEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, detail) VALUES (?, ?, ?)`,
		e.Time.UnixNano(), e.Kind, e.Detail)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentReadings returns up to n readings, newest first.
func (s *Store) RecentReadings(ctx context.Context, n int) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, humidity, temperature FROM readings ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var ts int64
		var r Reading
		if err := rows.Scan(&ts, &r.Humidity, &r.Temperature); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Time = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentEvents returns up to n events, newest first. An empty kind matches all.
func (s *Store) RecentEvents(ctx context.Context, kind string, n int) ([]Event, error) {
	query := `SELECT ts, kind, detail FROM events ORDER BY ts DESC, id DESC LIMIT ?`
	args := []any{n}
	if kind != "" {
		query = `SELECT ts, kind, detail FROM events WHERE kind = ? ORDER BY ts DESC, id DESC LIMIT ?`
		args = []any{kind, n}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ts int64
		var e Event
		if err := rows.Scan(&ts, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes rows older than cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"readings", "events"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts < ?`, cutoff.UnixNano())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing history: %w", err)
	}
	return nil
}
