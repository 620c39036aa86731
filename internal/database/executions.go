package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns overwritten when a cached execution is seen again. started_at and
// remote_created_at are facts about the original run and never change.
var upsertColumns = []string{
	"workflow_name",
	"status",
	"finished",
	"mode",
	"stopped_at",
	"duration_ms",
	"node_count",
	"error_message",
	"execution_data",
	"workflow_data",
	"updated_at",
}

// UpsertExecutions writes rows in batches of batchSize, each batch in its own
// transaction, keyed by (instance_id, execution_id). It returns the number of
// rows written before the first failing batch.
func UpsertExecutions(ctx context.Context, rows []Execution, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	written := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "instance_id"},
					{Name: "execution_id"},
				},
				DoUpdates: clause.AssignmentColumns(upsertColumns),
			}).Create(&batch).Error
		})
		if err != nil {
			return written, err
		}
		written += len(batch)
	}
	return written, nil
}

// ExecutionFilter narrows ListExecutions. Zero values mean "any".
type ExecutionFilter struct {
	InstanceID string
	Status     string
	WorkflowID string
	Limit      int
	Offset     int
}

// ListExecutions returns cached executions newest first, without payloads,
// together with the total number of matches.
func ListExecutions(f ExecutionFilter) ([]Execution, int64, error) {
	q := DB.Model(&Execution{})
	if f.InstanceID != "" {
		q = q.Where("instance_id = ?", f.InstanceID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.WorkflowID != "" {
		q = q.Where("workflow_id = ?", f.WorkflowID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []Execution
	err := q.Omit("execution_data", "workflow_data").
		Order("remote_created_at DESC").
		Limit(limit).
		Offset(f.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func GetExecution(id uint) (*Execution, error) {
	var e Execution
	if err := DB.First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// DailyStat holds per-status execution counts for one UTC day.
type DailyStat struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Total    int    `json:"total"`
	Success  int    `json:"success"`
	Error    int    `json:"error"`
	Running  int    `json:"running"`
	Waiting  int    `json:"waiting"`
	Canceled int    `json:"canceled"`
}

const dateKey = "2006-01-02"

// DailyStats buckets cached executions created in the last `days` days
// (including today) by ISO date. Days without executions are present with
// zero counts. An empty instanceID covers all instances.
func DailyStats(instanceID string, days int, now time.Time) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	type row struct {
		Status          string
		RemoteCreatedAt time.Time
	}
	q := DB.Model(&Execution{}).Select("status", "remote_created_at").Where("remote_created_at >= ?", first)
	if instanceID != "" {
		q = q.Where("instance_id = ?", instanceID)
	}
	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	stats := make([]DailyStat, days)
	index := make(map[string]int, days)
	for i := range stats {
		key := first.AddDate(0, 0, i).Format(dateKey)
		stats[i].Date = key
		index[key] = i
	}

	for _, r := range rows {
		i, ok := index[r.RemoteCreatedAt.UTC().Format(dateKey)]
		if !ok {
			continue
		}
		s := &stats[i]
		s.Total++
		switch r.Status {
		case "success":
			s.Success++
		case "error":
			s.Error++
		case "running":
			s.Running++
		case "waiting":
			s.Waiting++
		case "canceled":
			s.Canceled++
		}
	}
	return stats, nil
}
