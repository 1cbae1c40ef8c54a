package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = time.Minute
	defaultSchedulerScanLimit    = 100
	defaultLookaheadWindow       = 5 * time.Minute
)

// ScanResult summarizes one scheduler pass.
type ScanResult struct {
	Due       int
	Created   int
	Published int
	// Deferred tasks fire later in the window; the republisher queues them at fire time.
	Deferred      int
	PublishFailed int
}

// Scheduler turns due (event, offset) reminders into tasks and queues them.
// It keeps no state between passes; replicas coordinate through the task uniqueness constraint.
type Scheduler struct {
	events    repository.EventRepository
	tasks     repository.TaskRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	lookahead time.Duration
	limit     int
	now       func() time.Time
}

func NewScheduler(
	events repository.EventRepository,
	tasks repository.TaskRepository,
	publisher queue.Publisher,
	interval time.Duration,
	lookahead time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if lookahead <= 0 {
		lookahead = defaultLookaheadWindow
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		events:    events,
		tasks:     tasks,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		lookahead: lookahead,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Scheduler) Start(ctx context.Context) error {
	return runEvery(ctx, s.interval, s.logger, "scheduler scan", func(ctx context.Context) error {
		result, err := s.ScanAndEnqueue(ctx, s.now())
		if err != nil {
			return err
		}
		if result.Created > 0 || result.PublishFailed > 0 {
			s.logger.Info("scheduler scan completed",
				zap.Int("due", result.Due),
				zap.Int("created", result.Created),
				zap.Int("published", result.Published),
				zap.Int("deferred", result.Deferred),
				zap.Int("publishFailed", result.PublishFailed),
			)
		}
		return nil
	})
}

// ScanAndEnqueue creates a PENDING task for every reminder firing in [now, now+lookahead)
// that has none yet. New tasks are gated until their fire time; those already due are
// published at once. Scanning the same window again creates nothing new.
func (s *Scheduler) ScanAndEnqueue(ctx context.Context, now time.Time) (ScanResult, error) {
	now = now.UTC()

	var result ScanResult
	due, err := s.events.ListDueReminders(ctx, now, now.Add(s.lookahead), s.limit)
	if err != nil {
		return result, fmt.Errorf("failed to list due reminders: %w", err)
	}
	result.Due = len(due)

	for i := range due {
		reminder := due[i]
		fireAt := reminder.FireAt.UTC()
		task := &domain.ReminderTask{
			ID:            uuid.NewString(),
			EventID:       reminder.Event.ID,
			OffsetMinutes: reminder.OffsetMinutes,
			FireTime:      fireAt,
			Cycle:         1,
			Status:        domain.TaskStatusPending,
			NextAttemptAt: &fireAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		created, err := s.tasks.CreateIfAbsent(ctx, task)
		if err != nil {
			return result, fmt.Errorf("failed to create reminder task for event %s offset %d: %w",
				reminder.Event.ID, reminder.OffsetMinutes, err)
		}
		if !created {
			continue
		}
		result.Created++

		logger := s.logger.With(
			zap.String("taskId", task.ID),
			zap.String("eventId", task.EventID),
			zap.String("guildId", reminder.Event.GuildID),
			zap.Int("offsetMinutes", task.OffsetMinutes),
		)

		if fireAt.After(now) {
			result.Deferred++
			logger.Debug("reminder task scheduled for fire time", zap.Time("fireTime", fireAt))
			continue
		}

		if err := s.publisher.Publish(ctx, queue.RemindersQueue, queue.NewReminderMessage(task)); err != nil {
			result.PublishFailed++
			s.metrics.IncPublishFailed(observability.SourceScheduler)
			logger.Error("failed to enqueue reminder task, left for republisher", zap.Error(err))
			continue
		}
		result.Published++
		s.metrics.IncEnqueued(observability.SourceScheduler)

		if err := s.tasks.MarkPublished(ctx, task.ID); err != nil {
			logger.Warn("failed to mark reminder task published", zap.Error(err))
		}
	}

	return result, nil
}
