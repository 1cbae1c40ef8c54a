package migrations

import (
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_task ON delivery_attempts (task_id, cycle, attempt_number)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
		},
	}
}
