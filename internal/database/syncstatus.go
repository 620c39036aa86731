package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func GetSyncStatus(instanceID string) (*SyncStatus, error) {
	var s SyncStatus
	if err := DB.Where("instance_id = ?", instanceID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSyncStatuses returns every sync status keyed by instance ID.
func ListSyncStatuses() (map[string]SyncStatus, error) {
	var rows []SyncStatus
	if err := DB.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]SyncStatus, len(rows))
	for _, r := range rows {
		out[r.InstanceID] = r
	}
	return out, nil
}

// RecordSyncSuccess advances the cursor to syncedAt.
func RecordSyncSuccess(ctx context.Context, instanceID string, syncedAt time.Time, count int) error {
	s := SyncStatus{
		InstanceID:   instanceID,
		LastSyncedAt: &syncedAt,
		LastSuccess:  true,
		LastError:    "",
		RecordCount:  count,
	}
	return DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_synced_at", "last_success", "last_error", "record_count", "updated_at"}),
	}).Create(&s).Error
}

// RecordSyncFailure stores the failure without moving the cursor, so the next
// attempt starts from the last successful sync.
func RecordSyncFailure(ctx context.Context, instanceID string, message string) error {
	s := SyncStatus{
		InstanceID:  instanceID,
		LastSuccess: false,
		LastError:   message,
	}
	return DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_success", "last_error", "updated_at"}),
	}).Create(&s).Error
}
