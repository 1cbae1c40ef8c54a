package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner republishes PENDING tasks that have no outstanding queue message: tasks
// whose backoff elapsed, tasks whose first publish failed, and reclaimed or replayed tasks.
type RetryScanner struct {
	tasks     repository.TaskRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewRetryScanner(
	tasks repository.TaskRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		tasks:     tasks,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	return runEvery(ctx, s.interval, s.logger, "retry scanner", func(ctx context.Context) error {
		_, err := s.RepublishDue(ctx, s.now())
		return err
	})
}

// RepublishDue publishes every ready task and returns how many were published.
func (s *RetryScanner) RepublishDue(ctx context.Context, now time.Time) (int, error) {
	ready, err := s.tasks.ListReadyToPublish(ctx, now.UTC(), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tasks ready to publish: %w", err)
	}

	published := 0
	for i := range ready {
		task := &ready[i]
		if err := s.publisher.Publish(ctx, queue.RemindersQueue, queue.NewReminderMessage(task)); err != nil {
			s.metrics.IncPublishFailed(observability.SourceRepublisher)
			s.logger.Error("failed to republish reminder task",
				append(observability.TaskFields(task), zap.Error(err))...,
			)
			continue
		}
		s.metrics.IncEnqueued(observability.SourceRepublisher)
		published++

		if err := s.tasks.MarkPublished(ctx, task.ID); err != nil {
			s.logger.Warn("failed to mark reminder task published",
				append(observability.TaskFields(task), zap.Error(err))...,
			)
		}
	}

	return published, nil
}
