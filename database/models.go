// Package database provides database connection management for the brewlytics
// AI analytics service.
//
// This package includes:
//   - Database connection management using GORM and PostgreSQL
//   - Schema migration for metrics, model artefacts, forecasts and reports
//   - Comprehensive error handling and validation
//
// Data Models:
//
//	All data models (DailyBranchMetrics, MLModel, ForecastResult, etc.) are
//	defined in the models_pkg package to avoid circular import dependencies.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "brewlytics/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Silent logging for production
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	configurePool(sqlDB)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &Database{db: db}, nil
}

// configurePool bounds the connection pool and recycles connections hourly so
// a long-lived process does not hold sockets the server already dropped.
func configurePool(sqlDB *sql.DB) {
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
}

// FromGorm wraps an existing GORM handle. Used by tests that run against SQLite.
func FromGorm(db *gorm.DB) *Database {
	return &Database{db: db}
}

// InitSchema performs auto-migration for all owned tables
func (d *Database) InitSchema() error {
	err := d.db.AutoMigrate(
		&models.DailyBranchMetrics{},
		&models.MLModel{},
		&models.ForecastResult{},
		&models.AnalyticsReport{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Type Aliases
// ============================================================================

// Core data models - type aliases so callers can keep importing database.
type DailyBranchMetrics = models.DailyBranchMetrics
type MLModel = models.MLModel
type ForecastResult = models.ForecastResult
type AnalyticsReport = models.AnalyticsReport
