package repository

import (
	"context"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	ListByTask(ctx context.Context, taskID string, cycle int) ([]domain.DeliveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

// ListByTask returns attempts in execution order. cycle <= 0 returns every cycle.
func (r *GormAttemptRepo) ListByTask(ctx context.Context, taskID string, cycle int) ([]domain.DeliveryAttempt, error) {
	query := r.db.WithContext(ctx).Where("task_id = ?", taskID)
	if cycle > 0 {
		query = query.Where("cycle = ?", cycle)
	}

	var models []DeliveryAttemptModel
	err := query.
		Order("cycle ASC").
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
