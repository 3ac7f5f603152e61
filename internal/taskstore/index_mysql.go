package taskstore

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cahq/orchestrator/internal/workflow"
)

// MySQLIndex is the shared-host variant of SQLiteIndex: the same
// never-authoritative cache, backed by a MySQL table instead of a local
// file, for operators who already run a MySQL instance alongside several
// orchestrator data roots and would rather query one place than grep N
// task directories.
type MySQLIndex struct {
	db *sql.DB
}

// NewMySQLIndex opens a connection pool against dsn and ensures the
// tasks table exists.
func NewMySQLIndex(dsn string) (*MySQLIndex, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open mysql index: %w", err)
	}
	db.SetMaxOpenConns(8)

	const schema = `
		CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			priority VARCHAR(16) NOT NULL,
			assignee VARCHAR(128),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_tasks_status (status)
		) ENGINE=InnoDB
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("taskstore: create mysql schema: %w", err)
	}

	return &MySQLIndex{db: db}, nil
}

// Upsert records or refreshes a task row.
func (idx *MySQLIndex) Upsert(t workflow.Task) error {
	_, err := idx.db.Exec(`
		INSERT INTO tasks (id, status, priority, assignee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			priority = VALUES(priority),
			assignee = VALUES(assignee),
			updated_at = VALUES(updated_at)
	`, t.ID, string(t.Status), string(t.Priority), t.Assignee, t.CreatedAt, t.UpdatedAt)
	return err
}

// Remove deletes a task row.
func (idx *MySQLIndex) Remove(id string) error {
	_, err := idx.db.Exec("DELETE FROM tasks WHERE id = ?", id)
	return err
}

// FindByPrefix returns every task id starting with prefix.
func (idx *MySQLIndex) FindByPrefix(prefix string) ([]string, error) {
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

// Close releases the underlying connection pool.
func (idx *MySQLIndex) Close() error { return idx.db.Close() }
