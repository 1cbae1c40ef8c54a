package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"go.uber.org/zap"
)

// ReminderStatus is a task of an event together with its full attempt log.
type ReminderStatus struct {
	Task     domain.ReminderTask
	Attempts []domain.DeliveryAttempt
}

// EventService mirrors scheduled events from the CRUD layer into the pipeline.
type EventService struct {
	events   repository.EventRepository
	tasks    repository.TaskRepository
	attempts repository.AttemptRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewEventService(
	events repository.EventRepository,
	tasks repository.TaskRepository,
	attempts repository.AttemptRepository,
	logger *zap.Logger,
) (*EventService, error) {
	if events == nil || tasks == nil || attempts == nil {
		return nil, fmt.Errorf("event, task and attempt repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventService{
		events:   events,
		tasks:    tasks,
		attempts: attempts,
		logger:   logger,
	}, nil
}

func (s *EventService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Upsert validates and stores the event. An omitted status keeps the stored one. A
// status change to CANCELLED runs the same cascade as Cancel, and a cancelled or
// completed event cannot be moved to another status. Untried reminders follow a new
// start time.
func (s *EventService) Upsert(ctx context.Context, event *domain.ScheduledEvent) (*domain.ScheduledEvent, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event is required", domain.ErrValidation)
	}

	event.ID = strings.TrimSpace(event.ID)
	event.Title = strings.TrimSpace(event.Title)
	event.StartTime = event.StartTime.UTC()
	event.Offsets = domain.NormalizeOffsets(event.Offsets)

	requested := event.Status
	if requested == "" {
		event.Status = domain.EventStatusScheduled
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.events.GetByID(ctx, event.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	cancel := false
	if existing != nil {
		if requested == "" {
			requested = existing.Status
		}
		if existing.Status != domain.EventStatusScheduled && requested != existing.Status {
			return nil, fmt.Errorf("%w: event %s is %s", domain.ErrConflict, event.ID, existing.Status)
		}
		event.Status = requested
		if existing.Status == domain.EventStatusScheduled && requested == domain.EventStatusCancelled {
			cancel = true
			event.Status = domain.EventStatusScheduled
		}
	}

	if err := s.events.Upsert(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to upsert event: %w", err)
	}

	if cancel {
		if _, err := s.Cancel(ctx, event.ID); err != nil {
			return nil, err
		}
		event.Status = domain.EventStatusCancelled
	}

	s.logger.Info("event synced",
		zap.String("eventId", event.ID),
		zap.String("guildId", event.GuildID),
		zap.String("status", event.Status.String()),
		zap.Ints("offsets", event.Offsets),
	)
	return event, nil
}

// Cancel marks the event CANCELLED and cancels its PENDING reminders. IN_FLIGHT reminders
// are cancelled by the worker's pre-send check.
func (s *EventService) Cancel(ctx context.Context, id string) (int64, error) {
	if strings.TrimSpace(id) == "" {
		return 0, fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}

	cancelled, err := s.events.Cancel(ctx, id)
	if err != nil {
		return 0, err
	}
	s.metrics.AddCancelled("event_cancel", int(cancelled))

	s.logger.Info("event cancelled",
		zap.String("eventId", id),
		zap.Int64("remindersCancelled", cancelled),
	)
	return cancelled, nil
}

func (s *EventService) Reminders(ctx context.Context, id string) ([]ReminderStatus, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}

	if _, err := s.events.GetByID(ctx, id); err != nil {
		return nil, err
	}

	tasks, err := s.tasks.ListByEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder tasks: %w", err)
	}

	statuses := make([]ReminderStatus, 0, len(tasks))
	for _, task := range tasks {
		attempts, err := s.attempts.ListByTask(ctx, task.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts for task %s: %w", task.ID, err)
		}
		statuses = append(statuses, ReminderStatus{Task: task, Attempts: attempts})
	}

	return statuses, nil
}
