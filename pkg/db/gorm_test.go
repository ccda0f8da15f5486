package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
	taskDB "ai-task-platform/internal/task-manager/db"
)

func TestNewGormDB_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bootstrap.db")
	gormDB, err := NewGormDB(config.DatabaseConfig{Type: "sqlite", DSN: dsn, MaxOpenConns: 8, LogLevel: "silent"}, logger.NewNop())
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, AutoMigrate(gormDB, taskDB.AllModels()...))
	assert.True(t, gormDB.Migrator().HasTable(&taskDB.Task{}))
	assert.True(t, gormDB.Migrator().HasTable(&taskDB.CreditEntry{}))
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	_, err := NewGormDB(config.DatabaseConfig{Type: "oracle"}, logger.NewNop())
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, parseLogLevel("SILENT"))
	assert.Equal(t, gormlogger.Info, parseLogLevel("info"))
	assert.Equal(t, gormlogger.Warn, parseLogLevel(""))
}
