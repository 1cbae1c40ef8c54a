package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/provider"
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/ratelimit"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultLeaseTimeout  = 2 * time.Minute
	defaultSendTimeout   = 10 * time.Second
	releaseTimeout       = 5 * time.Second
)

// WorkerTimeouts bounds a single delivery.
type WorkerTimeouts struct {
	Lease time.Duration
	Send  time.Duration
}

type WorkerService struct {
	events      repository.EventRepository
	tasks       repository.TaskRepository
	attempts    repository.AttemptRepository
	consumer    queue.Consumer
	notifier    provider.Notifier
	rateLimiter ratelimit.RateLimiter
	coordinator *RetryCoordinator
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	timeouts    WorkerTimeouts
	now         func() time.Time
}

func NewWorkerService(
	events repository.EventRepository,
	tasks repository.TaskRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	notifier provider.Notifier,
	rateLimiter ratelimit.RateLimiter,
	coordinator *RetryCoordinator,
	concurrency int,
	timeouts WorkerTimeouts,
	logger *zap.Logger,
) (*WorkerService, error) {
	if events == nil || tasks == nil || attempts == nil {
		return nil, fmt.Errorf("event, task and attempt repositories are required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("retry coordinator is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if timeouts.Lease <= 0 {
		timeouts.Lease = defaultLeaseTimeout
	}
	if timeouts.Send <= 0 {
		timeouts.Send = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		events:      events,
		tasks:       tasks,
		attempts:    attempts,
		consumer:    consumer,
		notifier:    notifier,
		rateLimiter: rateLimiter,
		coordinator: coordinator,
		logger:      logger,
		concurrency: concurrency,
		timeouts:    timeouts,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs concurrency consumers on the reminders queue until ctx is cancelled.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("consumer is required")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, queue.RemindersQueue, s.Deliver)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// Deliver performs one delivery attempt for the task named by msg. A nil return acks the
// message: duplicates, stale messages and tasks in a terminal state are no-ops. Returned
// errors are infrastructure failures and requeue the message.
func (s *WorkerService) Deliver(ctx context.Context, msg queue.ReminderMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.TaskID)
	logger := observability.WithContextLogger(s.logger, ctx)

	now := s.now().UTC()
	task, err := s.tasks.ClaimForDelivery(ctx, msg.TaskID, now, now.Add(s.timeouts.Lease))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("reminder task not found, dropping message")
			return nil
		}
		return fmt.Errorf("failed to claim reminder task: %w", err)
	}
	if task == nil {
		logger.Debug("reminder task not claimable, skipping duplicate or early message")
		return nil
	}
	logger = logger.With(observability.TaskFields(task)...)

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	event, err := s.events.GetByID(ctx, task.EventID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.releaseClaim(ctx, task, logger)
		return fmt.Errorf("failed to load event %s: %w", task.EventID, err)
	}
	if event == nil || event.IsCancelled() {
		cancelled, err := s.tasks.MarkCancelled(ctx, task.ID, task.Lease())
		if err != nil {
			return fmt.Errorf("failed to cancel reminder task: %w", err)
		}
		if cancelled {
			s.metrics.AddCancelled("pre_send", 1)
			logger.Info("event cancelled before delivery, reminder cancelled")
		}
		return nil
	}

	// The limiter wait must leave room for the send inside the lease.
	waitBudget := s.timeouts.Lease - s.timeouts.Send
	if waitBudget <= 0 {
		waitBudget = s.timeouts.Lease
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, waitBudget)
	err = s.rateLimiter.Wait(waitCtx, ratelimit.DiscordGlobalBucket)
	cancelWait()
	if err != nil {
		s.releaseClaim(ctx, task, logger)
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	attemptNumber := task.AttemptCount
	sendCtx, cancel := context.WithTimeout(ctx, s.timeouts.Send)
	sendStart := s.now()
	resp, sendErr := s.notifier.Send(sendCtx, event.Recipients, renderReminder(event, task.OffsetMinutes))
	cancel()
	s.metrics.ObserveSendDuration(s.now().Sub(sendStart))

	if sendErr != nil && ctx.Err() != nil {
		// Shutdown mid-send; the lease reaper returns the task to PENDING.
		return fmt.Errorf("delivery interrupted: %w", ctx.Err())
	}

	if wait, global := provider.RetryAfter(sendErr); wait > 0 && global {
		if err := s.rateLimiter.Pause(ctx, ratelimit.DiscordGlobalBucket, wait); err != nil {
			logger.Warn("failed to pause discord bucket", zap.Duration("retryAfter", wait), zap.Error(err))
		} else {
			logger.Warn("discord global rate limit hit, bucket paused", zap.Duration("retryAfter", wait))
		}
	}

	outcome := provider.Classify(sendErr)
	s.metrics.IncAttempt(outcome.String())

	if err := s.recordAttempt(ctx, task, attemptNumber, outcome, resp, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	decision, err := s.coordinator.Resolve(ctx, task, outcome, sendErr)
	if err != nil {
		return err
	}
	if !decision.Applied {
		logger.Warn("reminder task changed state during delivery, outcome not applied",
			zap.String("outcome", outcome.String()),
		)
	}

	return nil
}

// releaseClaim hands the task back after a failure before the send, so the requeued
// message can claim it again instead of waiting for the lease reaper.
func (s *WorkerService) releaseClaim(ctx context.Context, task *domain.ReminderTask, logger *zap.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if _, err := s.tasks.ReleaseClaim(releaseCtx, task.ID, task.Lease()); err != nil {
		logger.Warn("failed to release reminder task claim, lease reaper will reclaim it", zap.Error(err))
	}
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	task *domain.ReminderTask,
	attemptNumber int,
	outcome domain.Outcome,
	resp *provider.ProviderResponse,
	sendErr error,
) error {
	var statusCode *int
	var attemptErr *string

	if resp != nil && resp.StatusCode > 0 {
		value := resp.StatusCode
		statusCode = &value
	}
	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		if code := provider.StatusCode(sendErr); code > 0 {
			statusCode = &code
		}
	}

	attempt := &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Cycle:         task.Cycle,
		AttemptNumber: attemptNumber,
		Outcome:       outcome,
		StatusCode:    statusCode,
		Error:         attemptErr,
		CreatedAt:     s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}
