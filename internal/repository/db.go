package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/paperpilot/internal/config"
	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
)

// InitDB initializes the database connection based on configuration and runs migrations.
// Parameters:
//   - cfg: database configuration including driver and connection settings.
//
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.LogQueries {
		level = gormlogger.Info
	}
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	}

	log := logger.GetDefault().WithField(logger.FieldComponent, "db")
	log.Infof("Initializing database with driver: %q", cfg.Driver)

	var db *gorm.DB
	var err error
	switch cfg.Driver {
	case "postgres":
		db, err = initPostgres(cfg, gormConfig)
	default:
		db, err = initSQLite(cfg, gormConfig)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.AutoMigrate {
		log.Info("Running AutoMigrate")
		if err := Migrate(db, cfg.Driver == "postgres"); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Migrate creates or updates every table. With pgvector enabled the vector
// extension is created first.
func Migrate(db *gorm.DB, pgvector bool) error {
	if pgvector {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	}
	if err := db.AutoMigrate(
		&domain.Paper{},
		&domain.UserInterestProfile{},
		&domain.SearchEvent{},
		&domain.TrendReport{},
		&domain.JobRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func initPostgres(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	// PreferSimpleProtocol keeps transaction poolers (pgbouncer, Supabase :6543) working.
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

func initSQLite(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")
	return db, nil
}
