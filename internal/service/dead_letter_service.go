package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDeadLetterPageSize = 50
	maxDeadLetterPageSize     = 100
)

// DeadLetterFilter selects dead letter entries. A nil Status means OPEN.
type DeadLetterFilter struct {
	Status   *domain.DeadLetterStatus
	EventID  string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type DeadLetterPage struct {
	Entries  []domain.DeadLetterEntry
	Total    int64
	Page     int
	PageSize int
}

// DeadLetterService is the operator surface over exhausted reminder tasks.
type DeadLetterService struct {
	deadLetters repository.DeadLetterRepository
	tasks       repository.TaskRepository
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDeadLetterService(
	deadLetters repository.DeadLetterRepository,
	tasks repository.TaskRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*DeadLetterService, error) {
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeadLetterService{
		deadLetters: deadLetters,
		tasks:       tasks,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *DeadLetterService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DeadLetterService) List(ctx context.Context, filter DeadLetterFilter) (*DeadLetterPage, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}

	status := domain.DeadLetterStatusOpen
	if filter.Status != nil {
		if !filter.Status.IsValid() {
			return nil, fmt.Errorf("%w: invalid dead letter status %q", domain.ErrValidation, *filter.Status)
		}
		status = *filter.Status
	}

	page := max(filter.Page, 1)
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = defaultDeadLetterPageSize
	}
	pageSize = min(pageSize, maxDeadLetterPageSize)

	params := repository.DeadLetterListParams{
		Status:   &status,
		From:     filter.From,
		To:       filter.To,
		Page:     page,
		PageSize: pageSize,
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		params.EventID = &eventID
	}

	entries, total, err := s.deadLetters.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return &DeadLetterPage{
		Entries:  entries,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *DeadLetterService) Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: dead letter id is required", domain.ErrValidation)
	}
	return s.deadLetters.GetByID(ctx, id)
}

// Replay resolves the entry and gives its task a fresh attempt budget. The publish is
// best-effort; an unpublished task is picked up by the retry scanner.
func (s *DeadLetterService) Replay(ctx context.Context, id string) (*domain.ReminderTask, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: dead letter id is required", domain.ErrValidation)
	}

	task, err := s.deadLetters.Replay(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.IncDeadLetterResolved("replay")

	logger := s.logger.With(observability.TaskFields(task)...).With(zap.String("deadLetterId", id))
	logger.Info("dead letter replayed")

	if s.publisher == nil {
		return task, nil
	}
	if err := s.publisher.Publish(ctx, queue.RemindersQueue, queue.NewReminderMessage(task)); err != nil {
		s.metrics.IncPublishFailed(observability.SourceReplay)
		logger.Warn("failed to publish replayed task, left for republisher", zap.Error(err))
		return task, nil
	}
	s.metrics.IncEnqueued(observability.SourceReplay)

	if err := s.tasks.MarkPublished(ctx, task.ID); err != nil {
		logger.Warn("failed to mark replayed task published", zap.Error(err))
		return task, nil
	}
	task.Published = true

	return task, nil
}

func (s *DeadLetterService) Discard(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: dead letter id is required", domain.ErrValidation)
	}

	if err := s.deadLetters.Discard(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.metrics.IncDeadLetterResolved("discard")
	s.logger.Info("dead letter discarded", zap.String("deadLetterId", id))
	return nil
}
