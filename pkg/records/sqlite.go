package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one indexed record.
type Entry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Payload   string    `json:"payload"`
}

// SQLiteMirror indexes saved records so they can be listed without walking
// the records tree. The JSON files stay the source of truth.
type SQLiteMirror struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteMirror opens (or creates) the index at dsn. A plain file path is
// accepted; ":memory:" gives a throwaway index.
func OpenSQLiteMirror(ctx context.Context, dsn string) (_ *SQLiteMirror, err error) {
	if dsn == "" {
		dsn = ":memory:"
	} else if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}
	m := &SQLiteMirror{db: db}
	defer func() {
		if err != nil {
			if e := m.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	// One connection keeps ":memory:" databases from splitting per conn.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			payload TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	if _, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_records_kind ON records (kind, created_at)`); err != nil {
		return nil, fmt.Errorf("failed to create records index: %w", err)
	}
	return m, nil
}

// Index stores one record. Re-indexing a path replaces its row.
func (m *SQLiteMirror) Index(ctx context.Context, kind, path string, createdAt time.Time, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (kind, path, created_at, payload) VALUES (?, ?, ?, ?)`,
		kind, path, createdAt.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to index record: %w", err)
	}
	return nil
}

// List returns records of kind, newest first. An empty kind lists all.
// limit <= 0 means no limit.
func (m *SQLiteMirror) List(ctx context.Context, kind string, limit int) (_ []Entry, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `SELECT id, kind, path, created_at, payload FROM records`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("error closing sql.Rows: %w", e))
		}
	}()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created int64
		if err = rows.Scan(&e.ID, &e.Kind, &e.Path, &created, &e.Payload); err != nil {
			return nil, fmt.Errorf("sql rows scan error: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sql rows scan error: %w", err)
	}
	return entries, nil
}

// Count returns the number of indexed records of kind (all when empty).
func (m *SQLiteMirror) Count(ctx context.Context, kind string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	var err error
	if kind == "" {
		err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	} else {
		err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE kind = ?`, kind).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (m *SQLiteMirror) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
