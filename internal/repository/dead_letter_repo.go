package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"gorm.io/gorm"
)

type DeadLetterListParams struct {
	Status   *domain.DeadLetterStatus
	EventID  *string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type DeadLetterRepository interface {
	List(ctx context.Context, params DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error)
	GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	Replay(ctx context.Context, id string, now time.Time) (*domain.ReminderTask, error)
	Discard(ctx context.Context, id string, now time.Time) error
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) List(ctx context.Context, params DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeadLetterEntryModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.EventID != nil {
		query = query.Where("event_id = ?", *params.EventID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", params.From.UTC())
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", params.To.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeadLetterEntryModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]domain.DeadLetterEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *deadLetterModelToDomain(&models[i]))
	}

	return entries, total, nil
}

func (r *GormDeadLetterRepo) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	return getDeadLetter(r.db.WithContext(ctx), id)
}

// Replay resolves an OPEN entry and resets its task to a fresh PENDING cycle.
func (r *GormDeadLetterRepo) Replay(ctx context.Context, id string, now time.Time) (*domain.ReminderTask, error) {
	var replayed ReminderTaskModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := getDeadLetter(tx, id)
		if err != nil {
			return err
		}
		if entry.Status != domain.DeadLetterStatusOpen {
			return fmt.Errorf("%w: dead letter %s is %s", domain.ErrConflict, id, entry.Status)
		}

		var event ScheduledEventModel
		err = tx.First(&event, "id = ?", entry.EventID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: event %s no longer exists", domain.ErrConflict, entry.EventID)
		}
		if err != nil {
			return err
		}
		if event.Status == domain.EventStatusCancelled {
			return fmt.Errorf("%w: event %s is cancelled", domain.ErrConflict, entry.EventID)
		}

		result := tx.Model(&DeadLetterEntryModel{}).
			Where("id = ? AND status = ?", id, domain.DeadLetterStatusOpen).
			Updates(map[string]any{
				"status":      domain.DeadLetterStatusReplayed,
				"resolved_at": now.UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: dead letter %s was resolved concurrently", domain.ErrConflict, id)
		}

		result = tx.Model(&ReminderTaskModel{}).
			Where("id = ? AND status = ?", entry.TaskID, domain.TaskStatusDeadLettered).
			Updates(map[string]any{
				"status":           domain.TaskStatusPending,
				"attempt_count":    0,
				"cycle":            gorm.Expr("cycle + 1"),
				"published":        false,
				"next_attempt_at":  nil,
				"lease_id":         nil,
				"lease_expires_at": nil,
				"last_error":       nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: task %s is not dead-lettered", domain.ErrConflict, entry.TaskID)
		}

		return tx.First(&replayed, "id = ?", entry.TaskID).Error
	})
	if err != nil {
		return nil, err
	}

	return taskModelToDomain(&replayed), nil
}

// Discard resolves an OPEN entry without further action. Discarding twice is a no-op.
func (r *GormDeadLetterRepo) Discard(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeadLetterEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeadLetterStatusOpen).
		Updates(map[string]any{
			"status":      domain.DeadLetterStatusDiscarded,
			"resolved_at": now.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	entry, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == domain.DeadLetterStatusDiscarded {
		return nil
	}
	return fmt.Errorf("%w: dead letter %s is %s", domain.ErrConflict, id, entry.Status)
}

func getDeadLetter(db *gorm.DB, id string) (*domain.DeadLetterEntry, error) {
	var model DeadLetterEntryModel
	err := db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deadLetterModelToDomain(&model), nil
}
