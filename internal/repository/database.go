package repository

import (
	"fmt"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/pkg/config"
	"github.com/mcadmin/mc-admin/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB opens the database connection and migrates the schema
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.Debug {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var db *gorm.DB
	var err error

	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for PostgreSQL")
		}
		logger.Info("Connecting to PostgreSQL", map[string]interface{}{
			"dsn": maskPassword(cfg.DatabaseURL),
		})
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}

	case "sqlite", "":
		logger.Info("Opening SQLite database", map[string]interface{}{
			"path": cfg.DatabasePath,
		})
		db, err = gorm.Open(sqlite.Open(cfg.DatabasePath), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("Database initialized", nil)
	return db, nil
}

// Migrate creates or updates the schema for all models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ServerRecord{},
		&models.Player{},
		&models.PlayerSession{},
		&models.PlayerChatMessage{},
		&models.PlayerAchievement{},
		&models.SystemHeartbeat{},
		&models.CronJob{},
		&models.CronJobExecution{},
		&models.DynamicConfig{},
	)
}

// maskPassword masks the password in a connection string for logging
func maskPassword(url string) string {
	if len(url) < 20 {
		return "****"
	}

	start := -1
	end := -1
	for i := 0; i < len(url); i++ {
		if url[i] == ':' && start == -1 && i > 10 {
			start = i + 1
		}
		if url[i] == '@' && start != -1 {
			end = i
			break
		}
	}

	if start == -1 || end == -1 || start >= end {
		return "****"
	}

	return url[:start] + "****" + url[end:]
}
