package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskRepository owns reminder task state. Every transition is a conditional update on the
// current status so concurrent workers and sweepers cannot both win the same task. Leaving
// IN_FLIGHT also requires the lease id handed out by ClaimForDelivery.
type TaskRepository interface {
	CreateIfAbsent(ctx context.Context, t *domain.ReminderTask) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.ReminderTask, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.ReminderTask, error)
	MarkPublished(ctx context.Context, id string) error
	ListReadyToPublish(ctx context.Context, now time.Time, limit int) ([]domain.ReminderTask, error)
	ClaimForDelivery(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.ReminderTask, error)
	ReleaseClaim(ctx context.Context, id, leaseID string) (bool, error)
	MarkDelivered(ctx context.Context, id, leaseID string) (bool, error)
	ScheduleRetry(ctx context.Context, id, leaseID string, nextAttemptAt time.Time, lastErr string) (bool, error)
	MarkDeadLettered(ctx context.Context, id, leaseID string, entry *domain.DeadLetterEntry) (bool, error)
	MarkCancelled(ctx context.Context, id, leaseID string) (bool, error)
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)
}

type GormTaskRepo struct {
	db *gorm.DB
}

func NewGormTaskRepo(db *gorm.DB) *GormTaskRepo {
	return &GormTaskRepo{db: db}
}

// CreateIfAbsent inserts the task unless one already exists for its (event, offset) pair.
func (r *GormTaskRepo) CreateIfAbsent(ctx context.Context, t *domain.ReminderTask) (bool, error) {
	model := taskModelFromDomain(t)
	if model == nil {
		return false, domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "offset_minutes"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	*t = *taskModelToDomain(model)
	return true, nil
}

func (r *GormTaskRepo) GetByID(ctx context.Context, id string) (*domain.ReminderTask, error) {
	var model ReminderTaskModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return taskModelToDomain(&model), nil
}

func (r *GormTaskRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.ReminderTask, error) {
	var models []ReminderTaskModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("fire_time ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return taskModelsToDomain(models), nil
}

func (r *GormTaskRepo) MarkPublished(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&ReminderTaskModel{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Update("published", true).Error
}

// ListReadyToPublish returns PENDING tasks with no outstanding queue message whose backoff has elapsed.
func (r *GormTaskRepo) ListReadyToPublish(ctx context.Context, now time.Time, limit int) ([]domain.ReminderTask, error) {
	var models []ReminderTaskModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND published = ?", domain.TaskStatusPending, false).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now.UTC()).
		Order("fire_time ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return taskModelsToDomain(models), nil
}

// ClaimForDelivery moves a PENDING task to IN_FLIGHT under a fresh lease and starts the
// next attempt. It returns (nil, nil) when another worker already owns the task, the task
// is terminal, or it is gated until a later time.
func (r *GormTaskRepo) ClaimForDelivery(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.ReminderTask, error) {
	leaseID := uuid.NewString()
	leaseUntil = leaseUntil.UTC()
	result := r.db.WithContext(ctx).
		Model(&ReminderTaskModel{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now.UTC()).
		Updates(map[string]any{
			"status":           domain.TaskStatusInFlight,
			"attempt_count":    gorm.Expr("attempt_count + 1"),
			"lease_id":         leaseID,
			"lease_expires_at": leaseUntil,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	task, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 || task.Lease() != leaseID {
		return nil, nil
	}
	return task, nil
}

// ReleaseClaim hands a claim back before anything was sent. The attempt it started is
// returned and the outstanding queue message may claim the task again.
func (r *GormTaskRepo) ReleaseClaim(ctx context.Context, id, leaseID string) (bool, error) {
	result := r.owned(ctx, id, leaseID).
		Updates(map[string]any{
			"status":           domain.TaskStatusPending,
			"attempt_count":    gorm.Expr("attempt_count - 1"),
			"lease_id":         nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormTaskRepo) MarkDelivered(ctx context.Context, id, leaseID string) (bool, error) {
	result := r.owned(ctx, id, leaseID).
		Updates(map[string]any{
			"status":           domain.TaskStatusDelivered,
			"lease_id":         nil,
			"lease_expires_at": nil,
			"next_attempt_at":  nil,
			"last_error":       nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ScheduleRetry returns an IN_FLIGHT task to PENDING, gated until nextAttemptAt.
func (r *GormTaskRepo) ScheduleRetry(ctx context.Context, id, leaseID string, nextAttemptAt time.Time, lastErr string) (bool, error) {
	result := r.owned(ctx, id, leaseID).
		Updates(map[string]any{
			"status":           domain.TaskStatusPending,
			"published":        false,
			"next_attempt_at":  nextAttemptAt.UTC(),
			"lease_id":         nil,
			"lease_expires_at": nil,
			"last_error":       lastErr,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkDeadLettered parks the task and records the dead letter entry in one transaction.
func (r *GormTaskRepo) MarkDeadLettered(ctx context.Context, id, leaseID string, entry *domain.DeadLetterEntry) (bool, error) {
	model := deadLetterModelFromDomain(entry)
	if model == nil {
		return false, domain.ErrValidation
	}

	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ReminderTaskModel{}).
			Where("id = ? AND status = ? AND lease_id = ?", id, domain.TaskStatusInFlight, leaseID).
			Updates(map[string]any{
				"status":           domain.TaskStatusDeadLettered,
				"lease_id":         nil,
				"lease_expires_at": nil,
				"next_attempt_at":  nil,
				"last_error":       model.LastError,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Create(model).Error; err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if moved {
		*entry = *deadLetterModelToDomain(model)
	}
	return moved, nil
}

// MarkCancelled finalizes a claimed task whose event was cancelled before the send.
func (r *GormTaskRepo) MarkCancelled(ctx context.Context, id, leaseID string) (bool, error) {
	result := r.owned(ctx, id, leaseID).
		Updates(map[string]any{
			"status":           domain.TaskStatusCancelled,
			"attempt_count":    gorm.Expr("attempt_count - 1"),
			"lease_id":         nil,
			"lease_expires_at": nil,
			"next_attempt_at":  nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormTaskRepo) owned(ctx context.Context, id, leaseID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&ReminderTaskModel{}).
		Where("id = ? AND status = ? AND lease_id = ?", id, domain.TaskStatusInFlight, leaseID)
}

// ReleaseExpiredLeases returns abandoned IN_FLIGHT tasks to PENDING so the republisher picks them up.
func (r *GormTaskRepo) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ReminderTaskModel{}).
		Where("status = ? AND lease_expires_at < ?", domain.TaskStatusInFlight, now.UTC()).
		Updates(map[string]any{
			"status":           domain.TaskStatusPending,
			"published":        false,
			"lease_id":         nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func taskModelsToDomain(models []ReminderTaskModel) []domain.ReminderTask {
	tasks := make([]domain.ReminderTask, 0, len(models))
	for i := range models {
		tasks = append(tasks, *taskModelToDomain(&models[i]))
	}
	return tasks
}
