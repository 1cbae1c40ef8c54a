package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository interface {
	Upsert(ctx context.Context, e *domain.ScheduledEvent) error
	GetByID(ctx context.Context, id string) (*domain.ScheduledEvent, error)
	ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.DueReminder, error)
	Cancel(ctx context.Context, id string) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

// Upsert writes the event and replaces its reminder offsets, recomputing fire times.
// PENDING tasks of the first cycle that were never attempted follow the new fire time of
// their offset; PENDING tasks of removed offsets are cancelled. Tasks that already ran
// keep their fire time.
func (r *GormEventRepo) Upsert(ctx context.Context, e *domain.ScheduledEvent) error {
	model := eventModelFromDomain(e)
	if model == nil {
		return domain.ErrValidation
	}

	offsets := domain.NormalizeOffsets(e.Offsets)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"guild_id", "title", "start_time", "status", "recipients", "updated_at"}),
		}).Create(model).Error
		if err != nil {
			return err
		}

		if err := tx.Where("event_id = ?", model.ID).Delete(&EventReminderModel{}).Error; err != nil {
			return err
		}

		if len(offsets) > 0 {
			reminders := make([]EventReminderModel, 0, len(offsets))
			for _, offset := range offsets {
				reminders = append(reminders, EventReminderModel{
					EventID:       model.ID,
					OffsetMinutes: offset,
					FireAt:        e.FireTime(offset),
				})
			}
			if err := tx.Create(&reminders).Error; err != nil {
				return err
			}
		}

		if model.Status == domain.EventStatusScheduled {
			if err := regatePendingTasks(tx, e, offsets); err != nil {
				return err
			}
		}

		e.Offsets = offsets
		e.CreatedAt = model.CreatedAt
		e.UpdatedAt = model.UpdatedAt
		return nil
	})
}

func regatePendingTasks(tx *gorm.DB, e *domain.ScheduledEvent, offsets []int) error {
	var pending []ReminderTaskModel
	if err := tx.Where("event_id = ? AND status = ?", e.ID, domain.TaskStatusPending).
		Find(&pending).Error; err != nil {
		return err
	}

	kept := make(map[int]struct{}, len(offsets))
	for _, offset := range offsets {
		kept[offset] = struct{}{}
	}

	for _, task := range pending {
		pendingTask := tx.Model(&ReminderTaskModel{}).
			Where("id = ? AND status = ?", task.ID, domain.TaskStatusPending)

		if _, ok := kept[task.OffsetMinutes]; !ok {
			if err := pendingTask.Updates(map[string]any{
				"status":          domain.TaskStatusCancelled,
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
			continue
		}

		fireAt := e.FireTime(task.OffsetMinutes).UTC()
		// Retried and replayed tasks are already past their original fire time.
		if task.AttemptCount > 0 || task.Cycle > 1 || task.FireTime.UTC().Equal(fireAt) {
			continue
		}
		if err := pendingTask.Where("attempt_count = ?", 0).Updates(map[string]any{
			"fire_time":       fireAt,
			"next_attempt_at": fireAt,
			"published":       false,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledEvent, error) {
	var model ScheduledEventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var reminders []EventReminderModel
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", id).
		Order("offset_minutes DESC").
		Find(&reminders).Error; err != nil {
		return nil, err
	}

	return eventModelToDomain(&model, reminders), nil
}

type dueReminderRow struct {
	EventID       string    `gorm:"column:event_id"`
	OffsetMinutes int       `gorm:"column:offset_minutes"`
	FireAt        time.Time `gorm:"column:fire_at"`
}

// ListDueReminders returns reminders of SCHEDULED events firing in [from, to) that have no task yet.
func (r *GormEventRepo) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.DueReminder, error) {
	var rows []dueReminderRow
	err := r.db.WithContext(ctx).
		Table("event_reminders AS er").
		Select("er.event_id, er.offset_minutes, er.fire_at").
		Joins("JOIN scheduled_events se ON se.id = er.event_id").
		Where("se.status = ?", domain.EventStatusScheduled).
		Where("er.fire_at >= ? AND er.fire_at < ?", from.UTC(), to.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM reminder_tasks rt WHERE rt.event_id = er.event_id AND rt.offset_minutes = er.offset_minutes)").
		Order("er.fire_at ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.EventID]; ok {
			continue
		}
		seen[row.EventID] = struct{}{}
		ids = append(ids, row.EventID)
	}

	var models []ScheduledEventModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	events := make(map[string]*domain.ScheduledEvent, len(models))
	for i := range models {
		events[models[i].ID] = eventModelToDomain(&models[i], nil)
	}

	due := make([]domain.DueReminder, 0, len(rows))
	for _, row := range rows {
		event, ok := events[row.EventID]
		if !ok {
			continue
		}
		due = append(due, domain.DueReminder{
			Event:         *event,
			OffsetMinutes: row.OffsetMinutes,
			FireAt:        row.FireAt.UTC(),
		})
	}

	return due, nil
}

// Cancel marks the event CANCELLED and cancels its PENDING tasks. Returns the number of tasks cancelled.
func (r *GormEventRepo) Cancel(ctx context.Context, id string) (int64, error) {
	var cancelled int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ScheduledEventModel
		err := tx.First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.Status == domain.EventStatusCompleted {
			return domain.ErrConflict
		}

		if err := tx.Model(&ScheduledEventModel{}).
			Where("id = ?", id).
			Update("status", domain.EventStatusCancelled).Error; err != nil {
			return err
		}

		result := tx.Model(&ReminderTaskModel{}).
			Where("event_id = ? AND status = ?", id, domain.TaskStatusPending).
			Updates(map[string]any{
				"status":          domain.TaskStatusCancelled,
				"next_attempt_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		cancelled = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}
