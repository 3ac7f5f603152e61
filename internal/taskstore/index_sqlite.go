package taskstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cahq/orchestrator/internal/workflow"
)

// SQLiteIndex is an optional, non-authoritative cache over task ids and a
// few filterable fields. It exists purely to make Resolve faster once
// a data root accumulates thousands of task folders; losing index.db (or
// never creating one) degrades performance, never correctness, because
// Store.scanPrefix and Store.List always fall back to the filesystem.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (creating if necessary) the cache index at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("taskstore: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("taskstore: set busy_timeout: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			assignee TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("taskstore: create schema: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Upsert records or refreshes a task row.
func (idx *SQLiteIndex) Upsert(t workflow.Task) error {
	_, err := idx.db.Exec(`
		INSERT INTO tasks (id, status, priority, assignee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			priority=excluded.priority,
			assignee=excluded.assignee,
			updated_at=excluded.updated_at
	`, t.ID, string(t.Status), string(t.Priority), t.Assignee, t.CreatedAt, t.UpdatedAt)
	return err
}

// Remove deletes a task row.
func (idx *SQLiteIndex) Remove(id string) error {
	_, err := idx.db.Exec("DELETE FROM tasks WHERE id = ?", id)
	return err
}

// FindByPrefix returns every task id starting with prefix.
func (idx *SQLiteIndex) FindByPrefix(prefix string) ([]string, error) {
	rows, err := idx.db.Query("SELECT id FROM tasks WHERE id LIKE ? ORDER BY id", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// Close releases the underlying database handle.
func (idx *SQLiteIndex) Close() error { return idx.db.Close() }
