package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/provider"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

// Decision is the state a task was moved to after an attempt.
type Decision struct {
	Status        domain.TaskStatus
	AttemptNumber int
	NextAttemptAt *time.Time
	DeadLetter    *domain.DeadLetterEntry
	// Applied is false when the caller no longer held the lease and nothing changed.
	Applied bool
}

// RetryCoordinator applies the outcome of a delivery attempt to an IN_FLIGHT task.
type RetryCoordinator struct {
	tasks       repository.TaskRepository
	attempts    repository.AttemptRepository
	backoff     *Backoff
	maxAttempts int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRetryCoordinator(
	tasks repository.TaskRepository,
	attempts repository.AttemptRepository,
	backoff *Backoff,
	maxAttempts int,
	logger *zap.Logger,
) (*RetryCoordinator, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if backoff == nil {
		backoff = NewBackoff(defaultBaseDelay, defaultMaxDelay)
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryCoordinator{
		tasks:       tasks,
		attempts:    attempts,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (c *RetryCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Resolve moves the task to DELIVERED, back to PENDING behind a backoff gate, or to
// DEAD_LETTERED. task is the snapshot returned by the claim: its attempt count is the
// number of the attempt being resolved and its lease fences every transition.
func (c *RetryCoordinator) Resolve(ctx context.Context, task *domain.ReminderTask, outcome domain.Outcome, sendErr error) (Decision, error) {
	if task == nil {
		return Decision{}, fmt.Errorf("%w: task is required", domain.ErrValidation)
	}
	if task.Lease() == "" {
		return Decision{}, fmt.Errorf("%w: task %s is not claimed", domain.ErrValidation, task.ID)
	}
	if !outcome.IsValid() {
		return Decision{}, fmt.Errorf("%w: invalid outcome %q", domain.ErrValidation, outcome)
	}

	attemptNumber := task.AttemptCount
	logger := c.logger.With(observability.TaskFields(task)...).With(
		zap.Int("attemptNumber", attemptNumber),
		zap.String("outcome", outcome.String()),
	)

	switch {
	case outcome == domain.OutcomeSuccess:
		applied, err := c.tasks.MarkDelivered(ctx, task.ID, task.Lease())
		if err != nil {
			return Decision{}, fmt.Errorf("failed to mark task delivered: %w", err)
		}
		if applied {
			c.metrics.IncDelivered()
			logger.Info("reminder delivered")
		}
		return Decision{Status: domain.TaskStatusDelivered, AttemptNumber: attemptNumber, Applied: applied}, nil

	case outcome == domain.OutcomeTransientFailure && attemptNumber < c.maxAttempts:
		delay := c.backoff.Delay(attemptNumber)
		if wait, _ := provider.RetryAfter(sendErr); wait > delay {
			delay = wait
		}
		next := c.now().UTC().Add(delay)
		applied, err := c.tasks.ScheduleRetry(ctx, task.ID, task.Lease(), next, errorText(sendErr))
		if err != nil {
			return Decision{}, fmt.Errorf("failed to schedule retry: %w", err)
		}
		if applied {
			c.metrics.IncRetryScheduled()
			logger.Warn("reminder delivery failed, retry scheduled",
				zap.Time("nextAttemptAt", next),
				zap.Error(sendErr),
			)
		}
		return Decision{Status: domain.TaskStatusPending, AttemptNumber: attemptNumber, NextAttemptAt: &next, Applied: applied}, nil

	default:
		entry, err := c.deadLetterEntry(ctx, task, attemptNumber, outcome, sendErr)
		if err != nil {
			return Decision{}, err
		}
		applied, err := c.tasks.MarkDeadLettered(ctx, task.ID, task.Lease(), entry)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to dead-letter task: %w", err)
		}
		if !applied {
			return Decision{Status: domain.TaskStatusDeadLettered, AttemptNumber: attemptNumber}, nil
		}
		c.metrics.IncDeadLettered(outcome.String())
		logger.Error("reminder dead-lettered",
			zap.String("deadLetterId", entry.ID),
			zap.Error(sendErr),
		)
		return Decision{Status: domain.TaskStatusDeadLettered, AttemptNumber: attemptNumber, DeadLetter: entry, Applied: true}, nil
	}
}

func (c *RetryCoordinator) deadLetterEntry(
	ctx context.Context,
	task *domain.ReminderTask,
	attemptNumber int,
	outcome domain.Outcome,
	sendErr error,
) (*domain.DeadLetterEntry, error) {
	history, err := c.attempts.ListByTask(ctx, task.ID, task.Cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt history: %w", err)
	}

	var lastErr *string
	if text := errorText(sendErr); text != "" {
		lastErr = &text
	}

	return &domain.DeadLetterEntry{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		EventID:       task.EventID,
		OffsetMinutes: task.OffsetMinutes,
		Cycle:         task.Cycle,
		TotalAttempts: attemptNumber,
		LastOutcome:   outcome,
		LastError:     lastErr,
		Attempts:      history,
		Status:        domain.DeadLetterStatusOpen,
		CreatedAt:     c.now().UTC(),
	}, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
