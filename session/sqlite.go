package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/orchestra/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_items (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT    NOT NULL,
  item       TEXT    NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_items_session ON session_items (session_id, id);
`

// SQLiteStore persists sessions in a SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (or creates) the database at path. The special path
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if path == ":memory:" {
		// every connection would see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	store, err := NewSQLiteStore(context.Background(), sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLiteStore uses an open database handle and creates the schema.
func NewSQLiteStore(ctx context.Context, sqlDB *sql.DB) (*SQLiteStore, error) {
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetItems returns the items of a session, the last limit items when limit > 0.
// A limited window never starts with a result whose invocation was cut off.
func (s *SQLiteStore) GetItems(ctx context.Context, sessionID string, limit int) ([]core.Item, error) {
	query := `SELECT item FROM session_items WHERE session_id = ? ORDER BY id ASC`
	args := []any{sessionID}

	if limit > 0 {
		query = `SELECT item FROM (
		   SELECT id, item FROM session_items WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var items []core.Item
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session %s: %w", sessionID, err)
		}

		it, err := core.UnmarshalItem([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 {
		items = core.DropOrphanResults(items)
	}

	return items, nil
}

// AddItems appends items in one transaction.
func (s *SQLiteStore) AddItems(ctx context.Context, sessionID string, items []core.Item) (err error) {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().UnixMilli()

	for _, it := range items {
		b, err := core.MarshalItem(it)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", sessionID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_items (session_id, item, created_at) VALUES (?, ?, ?)`,
			sessionID, string(b), now,
		); err != nil {
			return fmt.Errorf("write session %s: %w", sessionID, err)
		}
	}

	return tx.Commit()
}

// PopItem removes and returns the most recent item.
func (s *SQLiteStore) PopItem(ctx context.Context, sessionID string) (item core.Item, err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil || item == nil {
			_ = tx.Rollback()
		}
	}()

	var (
		id  int64
		raw string
	)

	err = tx.QueryRowContext(ctx,
		`SELECT id, item FROM session_items WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop session %s: %w", sessionID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM session_items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("pop session %s: %w", sessionID, err)
	}

	item, err = core.UnmarshalItem([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return item, nil
}

// ClearSession deletes every item of a session.
func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session_items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}
