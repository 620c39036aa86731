package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyncStatusFailurePreservesCursor(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	inst := newTestInstance("i1")
	inst.ID = "i1"
	if err := CreateInstance(inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if _, err := GetSyncStatus("i1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first sync, got %v", err)
	}

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	if err := RecordSyncSuccess(ctx, "i1", at, 17); err != nil {
		t.Fatalf("RecordSyncSuccess: %v", err)
	}
	if err := RecordSyncFailure(ctx, "i1", "remote query failed"); err != nil {
		t.Fatalf("RecordSyncFailure: %v", err)
	}

	s, err := GetSyncStatus("i1")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if s.LastSuccess {
		t.Error("expected LastSuccess=false after failure")
	}
	if s.LastError != "remote query failed" {
		t.Errorf("LastError = %q", s.LastError)
	}
	if s.LastSyncedAt == nil || !s.LastSyncedAt.Equal(at) {
		t.Errorf("cursor moved: %v", s.LastSyncedAt)
	}
	if s.RecordCount != 17 {
		t.Errorf("RecordCount = %d, want 17", s.RecordCount)
	}

	later := at.Add(time.Minute)
	RecordSyncSuccess(ctx, "i1", later, 0)
	s, _ = GetSyncStatus("i1")
	if !s.LastSuccess || s.LastError != "" || s.RecordCount != 0 || !s.LastSyncedAt.Equal(later) {
		t.Errorf("success did not reset status: %+v", s)
	}
}

func TestSyncStatusFirstFailureHasNoCursor(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()
	inst := newTestInstance("i2")
	inst.ID = "i2"
	if err := CreateInstance(inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if err := RecordSyncFailure(context.Background(), "i2", "boom"); err != nil {
		t.Fatalf("RecordSyncFailure: %v", err)
	}
	s, err := GetSyncStatus("i2")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if s.LastSyncedAt != nil {
		t.Errorf("expected nil cursor, got %v", s.LastSyncedAt)
	}

	all, _ := ListSyncStatuses()
	if _, ok := all["i2"]; !ok {
		t.Error("ListSyncStatuses missing i2")
	}
}

func TestSyncWritesRejectedForMissingInstance(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := RecordSyncSuccess(ctx, "gone", time.Now(), 1); err == nil {
		t.Error("RecordSyncSuccess accepted an unknown instance")
	}
	if err := RecordSyncFailure(ctx, "gone", "boom"); err == nil {
		t.Error("RecordSyncFailure accepted an unknown instance")
	}
	rows := []Execution{{InstanceID: "gone", ExecutionID: "1", Status: "success", RemoteCreatedAt: time.Now()}}
	if n, err := UpsertExecutions(ctx, rows, 500); err == nil || n != 0 {
		t.Errorf("UpsertExecutions for unknown instance: n=%d err=%v", n, err)
	}

	var count int64
	DB.Model(&Execution{}).Count(&count)
	if count != 0 {
		t.Errorf("orphan executions = %d", count)
	}
	if _, err := GetSyncStatus("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan sync status: %v", err)
	}
}

func TestDeleteInstanceCascadesThroughForeignKeys(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	inst := newTestInstance("prod")
	if err := CreateInstance(inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	rows := []Execution{{InstanceID: inst.ID, ExecutionID: "1", Status: "success", RemoteCreatedAt: time.Now()}}
	if _, err := UpsertExecutions(ctx, rows, 500); err != nil {
		t.Fatalf("UpsertExecutions: %v", err)
	}
	if err := RecordSyncSuccess(ctx, inst.ID, time.Now(), 1); err != nil {
		t.Fatalf("RecordSyncSuccess: %v", err)
	}

	// A bare delete of the instance row, without the explicit cleanup in
	// DeleteInstance, still removes its dependents.
	if err := DB.Where("id = ?", inst.ID).Delete(&Instance{}).Error; err != nil {
		t.Fatalf("delete instance row: %v", err)
	}
	var count int64
	DB.Model(&Execution{}).Where("instance_id = ?", inst.ID).Count(&count)
	if count != 0 {
		t.Errorf("executions left after delete = %d", count)
	}
	if _, err := GetSyncStatus(inst.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("sync status left after delete: %v", err)
	}
}
