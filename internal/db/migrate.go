package db

import (
	"fmt"

	"github.com/zulandar/ridechat/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model of the transcript store.
func AllModels() []interface{} {
	return []interface{}{
		&models.TranscriptMessage{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
