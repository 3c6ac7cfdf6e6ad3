// Package audit persists one record per loop iteration and the terminal
// status of each request. The agent loop writes through a narrow interface;
// failures to audit are logged by callers and never stop the loop.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one iteration's audit entry.
type Record struct {
	RequestID string
	Iteration int
	Tool      string
	Args      string
	Result    string
	Success   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// Store is a SQLite-backed audit log and request-status table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit store at the given path.
// Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
		dbPath = "file:" + dbPath + "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS iterations (
			request_id  TEXT NOT NULL,
			iteration   INTEGER NOT NULL,
			tool        TEXT NOT NULL,
			args        TEXT NOT NULL DEFAULT '',
			result      TEXT NOT NULL DEFAULT '',
			success     INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_iterations_request ON iterations(request_id, iteration);
		CREATE TABLE IF NOT EXISTS requests (
			request_id TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one iteration record.
func (s *Store) Append(r Record) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO iterations (request_id, iteration, tool, args, result, success, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.Iteration, r.Tool, r.Args, r.Result,
		boolToInt(r.Success), r.Duration.Milliseconds(), created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ForRequest returns a request's records ordered by iteration.
func (s *Store) ForRequest(requestID string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT iteration, tool, args, result, success, duration_ms, created_at
		 FROM iterations WHERE request_id = ? ORDER BY iteration, rowid`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r := Record{RequestID: requestID}
		var success, durationMS int64
		var created string
		if err := rows.Scan(&r.Iteration, &r.Tool, &r.Args, &r.Result, &success, &durationMS, &created); err != nil {
			return nil, err
		}
		r.Success = success == 1
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkStatus upserts a request's terminal (or queued/running) status.
func (s *Store) MarkStatus(requestID, status, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO requests (request_id, status, reason, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET
		   status = excluded.status, reason = excluded.reason, updated_at = excluded.updated_at`,
		requestID, status, reason, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("mark request status: %w", err)
	}
	return nil
}

// MarkInterrupted fails every request left QUEUED or RUNNING by a previous
// process. Returns how many requests were touched.
func (s *Store) MarkInterrupted(reason string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE requests SET status = 'FAILED', reason = ?, updated_at = ?
		 WHERE status IN ('QUEUED', 'RUNNING')`,
		reason, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Status returns a request's current status and reason.
func (s *Store) Status(requestID string) (status, reason string, err error) {
	err = s.db.QueryRow(
		`SELECT status, reason FROM requests WHERE request_id = ?`, requestID,
	).Scan(&status, &reason)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("unknown request: %s", requestID)
	}
	if err != nil {
		return "", "", fmt.Errorf("query request status: %w", err)
	}
	return status, reason, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
