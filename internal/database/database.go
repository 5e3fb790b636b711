package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	pkgLogger "github.com/sjperalta/fintera-invoicing/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Connect opens the database named by databaseURL. PostgreSQL is the
// production store; a "sqlite:" URL opens a local file for development.
func Connect(databaseURL, environment string) (*gorm.DB, error) {
	logLevel := logger.Silent
	if environment != "production" {
		logLevel = logger.Info
	}

	gormLogger := pkgLogger.NewGormLogger(
		logLevel,
		200*time.Millisecond,
	)

	if strings.HasPrefix(databaseURL, sqlitePrefix) {
		return open(sqlite.Open(strings.TrimPrefix(databaseURL, sqlitePrefix)), gormLogger, 1)
	}
	return open(postgres.Open(databaseURL), gormLogger, 50)
}

// OpenSQLite opens an SQLite database with a single connection, which is
// what an in-memory database (":memory:") needs to stay shared.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	return open(sqlite.Open(dsn), pkgLogger.NewGormLogger(logger.Silent, 200*time.Millisecond), 1)
}

func open(dialector gorm.Dialector, gormLogger logger.Interface, maxOpen int) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(min(5, maxOpen))
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if maxOpen > 1 {
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates every table the service owns
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Contract{},
		&models.Clause{},
		&models.WorkEvent{},
		&models.Invoice{},
		&models.InvoiceLine{},
		&models.Exception{},
		&models.ExceptionComment{},
		&models.Approval{},
		&models.AuditEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
