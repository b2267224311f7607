package db

import (
	"gorm.io/gorm"

	"github.com/fleecy/participant/internal/domain"
)

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.TimelineEvent{}); err != nil {
		return err
	}

	// Deploy history is always queried per task.
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timeline_events_resource
		ON timeline_events (resource_type, resource_id)
		WHERE deleted_at IS NULL
	`).Error
}
