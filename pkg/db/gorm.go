package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
)

// NewGormDB opens the database described by cfg. Type is sqlite (default),
// mysql or postgres. sqlite is limited to one open connection.
func NewGormDB(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	dsn := cfg.DSN
	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		if dsn == "" {
			dsn = "root:@tcp(127.0.0.1:3306)/ai_tasks?charset=utf8mb4&parseTime=True&loc=Local"
		}
		dialector = mysql.Open(dsn)
	case "postgres":
		if dsn == "" {
			dsn = "host=localhost user=postgres dbname=ai_tasks sslmode=disable"
		}
		dialector = postgres.Open(dsn)
	case "", "sqlite":
		if dsn == "" {
			dsn = "ai_tasks.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	gormLog := gormlogger.New(gormWriter{log.Named("gorm")}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  parseLogLevel(cfg.LogLevel),
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Type == "" || cfg.Type == "sqlite" {
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	log.Infow("database connection established", "type", cfg.Type)
	return db, nil
}

// AutoMigrate performs auto-migration for the given GORM models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Infof(format, args...)
}
