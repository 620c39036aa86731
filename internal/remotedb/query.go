package remotedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Execution is one row of the engine's execution table with its payloads.
type Execution struct {
	ID           string
	WorkflowID   string
	WorkflowName string
	Status       Status
	Finished     bool
	Mode         string
	StartedAt    *time.Time
	StoppedAt    *time.Time
	CreatedAt    time.Time
	Data         []byte
	WorkflowData []byte
}

// Duration is StoppedAt minus StartedAt, or nil while either is unknown.
func (e *Execution) Duration() *int64 {
	if e.StartedAt == nil || e.StoppedAt == nil {
		return nil
	}
	ms := e.StoppedAt.Sub(*e.StartedAt).Milliseconds()
	return &ms
}

func quote(db *gorm.DB, name string) string {
	var b strings.Builder
	db.Dialector.QuoteTo(&b, name)
	return b.String()
}

// FetchExecutions returns every execution created at or after since, oldest
// first. prefix is the engine's table prefix.
func FetchExecutions(ctx context.Context, db *gorm.DB, prefix string, since time.Time) ([]Execution, error) {
	q := func(name string) string { return quote(db, name) }
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s
FROM %s e
LEFT JOIN %s d ON %s = %s
LEFT JOIN %s w ON %s = %s
WHERE %s >= ?
ORDER BY %s ASC`,
		q("e.id"), q("e.workflowId"), q("w.name"), q("e.status"), q("e.finished"), q("e.mode"),
		q("e.startedAt"), q("e.stoppedAt"), q("e.createdAt"), q("d.data"), q("d.workflowData"),
		q(prefix+"execution_entity"),
		q(prefix+"execution_data"), q("d.executionId"), q("e.id"),
		q(prefix+"workflow_entity"), q("w.id"), q("e.workflowId"),
		q("e.createdAt"),
		q("e.createdAt"),
	)

	rows, err := db.WithContext(ctx).Raw(query, since.UTC()).Rows()
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                    Execution
			workflowID, name     sql.NullString
			status, mode         sql.NullString
			finished             sql.NullBool
			startedAt, stoppedAt sql.NullTime
			data, workflowData   sql.NullString
		)
		if err := rows.Scan(&e.ID, &workflowID, &name, &status, &finished, &mode,
			&startedAt, &stoppedAt, &e.CreatedAt, &data, &workflowData); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.WorkflowID = workflowID.String
		e.WorkflowName = name.String
		e.Finished = finished.Bool
		e.Mode = mode.String
		if startedAt.Valid {
			t := startedAt.Time.UTC()
			e.StartedAt = &t
		}
		if stoppedAt.Valid {
			t := stoppedAt.Time.UTC()
			e.StoppedAt = &t
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if status.Valid {
			e.Status = NormalizeStatus(status.String)
		} else {
			e.Status = DeriveStatus(e.Finished, e.StoppedAt)
		}
		if data.Valid {
			e.Data = []byte(data.String)
		}
		if workflowData.Valid {
			e.WorkflowData = []byte(workflowData.String)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read executions: %w", err)
	}
	return out, nil
}
