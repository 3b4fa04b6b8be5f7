package db

import (
	"fmt"

	"github.com/mbellotti/testyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Script{},
		&models.Execution{},
		&models.ScheduledTask{},
		&models.Document{},
	}
}

// AutoMigrate creates or updates all Testyard tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
