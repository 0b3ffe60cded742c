// Package archive persists kept snapshots to SQLite so a session can be
// exported or replayed after the engine process is gone. The ring buffer
// is the bounded in-memory view; the archive is the durable one.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/simdash/simdash/internal/buffer"
)

// Record is one archived snapshot row.
type Record struct {
	Session   string
	Step      int
	Kind      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Store is a SQLite-backed snapshot archive. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT    NOT NULL,
	step       INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	created_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session_step ON snapshots(session, step);
`

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append stores one snapshot for the given session and step.
func (s *Store) Append(session string, step int, kind string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot payload: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO snapshots (session, step, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		session, step, kind, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Sessions lists all archived session IDs in insertion order.
func (s *Store) Sessions() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT session FROM snapshots GROUP BY session ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// Steps lists the archived step indices for a session, ascending.
func (s *Store) Steps(session string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT step FROM snapshots WHERE session = ? ORDER BY step`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []int
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Records returns the archived snapshots for a session in step order.
func (s *Store) Records(session string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT step, kind, payload, created_at FROM snapshots WHERE session = ? ORDER BY step, id`,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			raw       string
			createdAt string
		)
		if err := rows.Scan(&rec.Step, &rec.Kind, &raw, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &rec.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload at step %d: %w", rec.Step, err)
		}
		rec.Session = session
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Series extracts a numeric time series from the archived snapshots of a
// session, using the same dot-path lookup as the ring buffer. A snapshot
// missing the field contributes a zero-valued point so the series stays
// step-aligned.
func (s *Store) Series(session, fieldPath string) ([]buffer.Point, error) {
	records, err := s.Records(session)
	if err != nil {
		return nil, err
	}

	points := make([]buffer.Point, 0, len(records))
	for _, rec := range records {
		points = append(points, buffer.Point{
			Step:  rec.Step,
			Value: buffer.ExtractValue(rec.Payload, fieldPath),
		})
	}
	return points, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
