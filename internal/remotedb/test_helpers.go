package remotedb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EngineRow is a row written into a test engine database.
type EngineRow struct {
	ID           int64
	WorkflowID   string
	Status       string // "" stores NULL
	Finished     bool
	Mode         string
	StartedAt    *time.Time
	StoppedAt    *time.Time
	CreatedAt    time.Time
	Data         string
	WorkflowData string
}

// OpenTestEngine creates a file-backed SQLite database laid out like the
// engine's execution tables with the given table prefix. It stands in for a
// remote postgres or mysql database in tests.
func OpenTestEngine(t testing.TB, prefix string) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "engine.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open engine database: %v", err)
	}
	q := func(name string) string { return quote(db, name) }
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE %s (id VARCHAR PRIMARY KEY, name VARCHAR NOT NULL)`, q(prefix+"workflow_entity")),
		fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY, finished BOOLEAN NOT NULL DEFAULT 0, mode VARCHAR, status VARCHAR, %s DATETIME, %s DATETIME, %s VARCHAR, %s DATETIME NOT NULL)`,
			q(prefix+"execution_entity"), q("startedAt"), q("stoppedAt"), q("workflowId"), q("createdAt")),
		fmt.Sprintf(`CREATE TABLE %s (%s INTEGER PRIMARY KEY, data TEXT, %s TEXT)`,
			q(prefix+"execution_data"), q("executionId"), q("workflowData")),
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create engine schema: %v", err)
		}
	}
	t.Cleanup(func() { Close(db) })
	return db
}

// PutTestWorkflow inserts or replaces a workflow row.
func PutTestWorkflow(t testing.TB, db *gorm.DB, prefix, id, name string) {
	t.Helper()
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, name) VALUES (?, ?)`, quote(db, prefix+"workflow_entity"))
	if err := db.Exec(stmt, id, name).Error; err != nil {
		t.Fatalf("put workflow: %v", err)
	}
}

// PutTestExecution inserts or replaces an execution and its payload row.
func PutTestExecution(t testing.TB, db *gorm.DB, prefix string, r EngineRow) {
	t.Helper()
	q := func(name string) string { return quote(db, name) }

	var status any
	if r.Status != "" {
		status = r.Status
	}
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, finished, mode, status, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q(prefix+"execution_entity"), q("startedAt"), q("stoppedAt"), q("workflowId"), q("createdAt"))
	err := db.Exec(stmt, r.ID, r.Finished, r.Mode, status,
		nullTime(r.StartedAt), nullTime(r.StoppedAt), r.WorkflowID, r.CreatedAt.UTC()).Error
	if err != nil {
		t.Fatalf("put execution: %v", err)
	}

	stmt = fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s, data, %s) VALUES (?, ?, ?)`,
		q(prefix+"execution_data"), q("executionId"), q("workflowData"))
	if err := db.Exec(stmt, r.ID, r.Data, r.WorkflowData).Error; err != nil {
		t.Fatalf("put execution data: %v", err)
	}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
