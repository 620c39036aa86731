package database

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB points DB at a fresh file-backed SQLite database in a temp
// directory and returns a cleanup func that closes it and restores the
// previous handle. File-backed so every pooled connection sees the same data.
func SetupTestDB(t testing.TB) func() {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flowwatch-test.db")
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	prev := DB
	DB = db
	return func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		DB = prev
	}
}
