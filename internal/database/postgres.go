package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/models"
)

const sqliteScheme = "sqlite://"

// Connect opens the assessment database. DSNs starting with sqlite:// open a SQLite file,
// which is convenient for local runs; anything else is handed to the PostgreSQL driver.
func Connect(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn must not be empty")
	}

	if strings.HasPrefix(dsn, sqliteScheme) {
		db, err := gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, sqliteScheme)), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the assessment tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ModelingSubmission{},
		&models.ModelingResult{},
		&models.ModelingFeedback{},
		&models.ModelAssessmentConflict{},
		&models.ActivityLog{},
	); err != nil {
		return fmt.Errorf("migrate assessment schema: %w", err)
	}
	return nil
}
