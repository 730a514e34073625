package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists entries in a single table.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// one writer; the consumer is the only appender
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: enable WAL: %w", err)
	}
	j := &SQLite{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		port INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL,
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("journal: create schema: %w", err)
	}
	return nil
}

func (j *SQLite) Append(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO outcomes (kind, port, bytes, attempts, status, error, duration_ns, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, int(e.Port), e.Bytes, e.Attempts, e.Status, e.Error, int64(e.Duration), e.At.UnixNano())
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

func (j *SQLite) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(`
		SELECT id, kind, port, bytes, attempts, status, error, duration_ns, at
		FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			port  int
			durNS int64
			atNS  int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &port, &e.Bytes, &e.Attempts, &e.Status, &e.Error, &durNS, &atNS); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Port = uint16(port)
		e.Duration = time.Duration(durNS)
		e.At = time.Unix(0, atNS)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
