package migrations

import (
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createReminderTasksTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_reminder_tasks",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ReminderTaskModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_reminder_tasks_unpublished ON reminder_tasks (next_attempt_at) WHERE status = 'PENDING' AND published = false`,
				`CREATE INDEX IF NOT EXISTS idx_reminder_tasks_lease ON reminder_tasks (lease_expires_at) WHERE status = 'IN_FLIGHT'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReminderTaskModel{})
		},
	}
}
