package migrations

import (
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createDeadLetterEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_dead_letter_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeadLetterEntryModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_entries_status_created ON dead_letter_entries (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_entries_event ON dead_letter_entries (event_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeadLetterEntryModel{})
		},
	}
}
