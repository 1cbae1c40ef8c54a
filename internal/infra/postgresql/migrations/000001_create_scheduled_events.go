package migrations

import (
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createScheduledEventsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_scheduled_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduledEventModel{}, &repository.EventReminderModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_scheduled_events_status_start ON scheduled_events (status, start_time)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EventReminderModel{}, &repository.ScheduledEventModel{})
		},
	}
}
