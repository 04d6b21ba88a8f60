package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raysh454/scanqueue/internal/logging"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore keeps one row per task field in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, logger logging.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure dir for %s: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		logging.OrNop(logger).Warn("sqlite pragmas", logging.Err(err))
	}
	s, err := NewSQLiteStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore runs the schema migration against db and wraps it.
func NewSQLiteStore(db *sql.DB, logger logging.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logging.OrNop(logger)}, nil
}

func (s *SQLiteStore) Set(ctx context.Context, taskID, field, value string) error {
	return s.SetFields(ctx, taskID, map[string]string{field: value})
}

func (s *SQLiteStore) SetFields(ctx context.Context, taskID string, fields map[string]string) error {
	now := time.Now().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		taskID, now); err != nil {
		return fmt.Errorf("insert task %s: %w", taskID, err)
	}
	if err := upsertFields(ctx, tx, taskID, fields, now); err != nil {
		return err
	}
	return tx.Commit()
}

// SetFieldsUnless touches the guard row with a conditional UPDATE first, so
// the write lock is taken before the remaining fields are written.
func (s *SQLiteStore) SetFieldsUnless(ctx context.Context, taskID, guard string, blocked []string, fields map[string]string) (bool, error) {
	now := time.Now().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE task_fields SET updated_at = ? WHERE task_id = ? AND field = ?`
	args := []any{now, taskID, guard}
	if len(blocked) > 0 {
		query += ` AND value NOT IN (?` + strings.Repeat(`, ?`, len(blocked)-1) + `)`
		for _, b := range blocked {
			args = append(args, b)
		}
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("check %s.%s: %w", taskID, guard, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM task_fields WHERE task_id = ? AND field = ?`, taskID, guard).Scan(&cur)
		switch {
		case err == nil:
			return false, nil
		case !errors.Is(err, sql.ErrNoRows):
			return false, fmt.Errorf("read %s.%s: %w", taskID, guard, err)
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, taskID).Scan(&exists); err != nil {
			return false, fmt.Errorf("exists %s: %w", taskID, err)
		}
		if exists == 0 {
			return false, ErrNotFound
		}
		// no guard value yet, nothing can block the write
	}
	if err := upsertFields(ctx, tx, taskID, fields, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s: %w", taskID, err)
	}
	return true, nil
}

func upsertFields(ctx context.Context, tx *sql.Tx, taskID string, fields map[string]string, now int64) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_fields (task_id, field, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare field upsert: %w", err)
	}
	defer stmt.Close()
	for field, value := range fields {
		if _, err := stmt.ExecContext(ctx, taskID, field, value, now); err != nil {
			return fmt.Errorf("set %s.%s: %w", taskID, field, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, taskID string) (Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM task_fields WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task %s: %w", taskID, err)
	}
	defer rows.Close()

	rec := Record{}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		rec[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, taskID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, taskID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", taskID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
