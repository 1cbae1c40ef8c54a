package migrations

import (
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addReminderTaskLeaseID() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_reminder_task_lease_id",
		Migrate: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&repository.ReminderTaskModel{}, "LeaseID") {
				return nil
			}
			return tx.Migrator().AddColumn(&repository.ReminderTaskModel{}, "LeaseID")
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropColumn(&repository.ReminderTaskModel{}, "LeaseID")
		},
	}
}
