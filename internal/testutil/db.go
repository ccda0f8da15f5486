// Package testutil holds helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	taskDB "ai-task-platform/internal/task-manager/db"
)

// NewDB opens a migrated sqlite database in a per-test temp directory.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")

	gormDB, err := gorm.Open(sqlite.Open(dbFile+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// sqlite allows a single writer; serialize access like pkg/db does.
	sqlDB.SetMaxOpenConns(1)

	if err := gormDB.AutoMigrate(taskDB.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Logf("Warning: could not close test DB: %v", err)
		}
	})
	return gormDB
}
