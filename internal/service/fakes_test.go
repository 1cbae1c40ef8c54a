package service

import (
	"context"
	"sync"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/provider"
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/ratelimit"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
)

type fakeEventRepo struct {
	upsertFn           func(ctx context.Context, e *domain.ScheduledEvent) error
	getByIDFn          func(ctx context.Context, id string) (*domain.ScheduledEvent, error)
	listDueRemindersFn func(ctx context.Context, from, to time.Time, limit int) ([]domain.DueReminder, error)
	cancelFn           func(ctx context.Context, id string) (int64, error)
}

func (f *fakeEventRepo) Upsert(ctx context.Context, e *domain.ScheduledEvent) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, e)
	}
	return nil
}

func (f *fakeEventRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledEvent, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEventRepo) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.DueReminder, error) {
	if f.listDueRemindersFn != nil {
		return f.listDueRemindersFn(ctx, from, to, limit)
	}
	return nil, nil
}

func (f *fakeEventRepo) Cancel(ctx context.Context, id string) (int64, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return 0, nil
}

var _ repository.EventRepository = (*fakeEventRepo)(nil)

type fakeTaskRepo struct {
	createIfAbsentFn       func(ctx context.Context, t *domain.ReminderTask) (bool, error)
	getByIDFn              func(ctx context.Context, id string) (*domain.ReminderTask, error)
	listByEventFn          func(ctx context.Context, eventID string) ([]domain.ReminderTask, error)
	markPublishedFn        func(ctx context.Context, id string) error
	listReadyToPublishFn   func(ctx context.Context, now time.Time, limit int) ([]domain.ReminderTask, error)
	claimForDeliveryFn     func(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.ReminderTask, error)
	releaseClaimFn         func(ctx context.Context, id, leaseID string) (bool, error)
	markDeliveredFn        func(ctx context.Context, id, leaseID string) (bool, error)
	scheduleRetryFn        func(ctx context.Context, id, leaseID string, nextAttemptAt time.Time, lastErr string) (bool, error)
	markDeadLetteredFn     func(ctx context.Context, id, leaseID string, entry *domain.DeadLetterEntry) (bool, error)
	markCancelledFn        func(ctx context.Context, id, leaseID string) (bool, error)
	releaseExpiredLeasesFn func(ctx context.Context, now time.Time) (int64, error)
}

func (f *fakeTaskRepo) CreateIfAbsent(ctx context.Context, t *domain.ReminderTask) (bool, error) {
	if f.createIfAbsentFn != nil {
		return f.createIfAbsentFn(ctx, t)
	}
	return true, nil
}

func (f *fakeTaskRepo) GetByID(ctx context.Context, id string) (*domain.ReminderTask, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTaskRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.ReminderTask, error) {
	if f.listByEventFn != nil {
		return f.listByEventFn(ctx, eventID)
	}
	return nil, nil
}

func (f *fakeTaskRepo) MarkPublished(ctx context.Context, id string) error {
	if f.markPublishedFn != nil {
		return f.markPublishedFn(ctx, id)
	}
	return nil
}

func (f *fakeTaskRepo) ListReadyToPublish(ctx context.Context, now time.Time, limit int) ([]domain.ReminderTask, error) {
	if f.listReadyToPublishFn != nil {
		return f.listReadyToPublishFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeTaskRepo) ClaimForDelivery(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.ReminderTask, error) {
	if f.claimForDeliveryFn != nil {
		return f.claimForDeliveryFn(ctx, id, now, leaseUntil)
	}
	return nil, nil
}

func (f *fakeTaskRepo) ReleaseClaim(ctx context.Context, id, leaseID string) (bool, error) {
	if f.releaseClaimFn != nil {
		return f.releaseClaimFn(ctx, id, leaseID)
	}
	return true, nil
}

func (f *fakeTaskRepo) MarkDelivered(ctx context.Context, id, leaseID string) (bool, error) {
	if f.markDeliveredFn != nil {
		return f.markDeliveredFn(ctx, id, leaseID)
	}
	return true, nil
}

func (f *fakeTaskRepo) ScheduleRetry(ctx context.Context, id, leaseID string, nextAttemptAt time.Time, lastErr string) (bool, error) {
	if f.scheduleRetryFn != nil {
		return f.scheduleRetryFn(ctx, id, leaseID, nextAttemptAt, lastErr)
	}
	return true, nil
}

func (f *fakeTaskRepo) MarkDeadLettered(ctx context.Context, id, leaseID string, entry *domain.DeadLetterEntry) (bool, error) {
	if f.markDeadLetteredFn != nil {
		return f.markDeadLetteredFn(ctx, id, leaseID, entry)
	}
	return true, nil
}

func (f *fakeTaskRepo) MarkCancelled(ctx context.Context, id, leaseID string) (bool, error) {
	if f.markCancelledFn != nil {
		return f.markCancelledFn(ctx, id, leaseID)
	}
	return true, nil
}

func (f *fakeTaskRepo) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	if f.releaseExpiredLeasesFn != nil {
		return f.releaseExpiredLeasesFn(ctx, now)
	}
	return 0, nil
}

var _ repository.TaskRepository = (*fakeTaskRepo)(nil)

type fakeAttemptRepo struct {
	createFn     func(ctx context.Context, a *domain.DeliveryAttempt) error
	listByTaskFn func(ctx context.Context, taskID string, cycle int) ([]domain.DeliveryAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) ListByTask(ctx context.Context, taskID string, cycle int) ([]domain.DeliveryAttempt, error) {
	if f.listByTaskFn != nil {
		return f.listByTaskFn(ctx, taskID, cycle)
	}
	return nil, nil
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

type fakeDeadLetterRepo struct {
	listFn    func(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error)
	getByIDFn func(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	replayFn  func(ctx context.Context, id string, now time.Time) (*domain.ReminderTask, error)
	discardFn func(ctx context.Context, id string, now time.Time) error
}

func (f *fakeDeadLetterRepo) List(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeDeadLetterRepo) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeadLetterRepo) Replay(ctx context.Context, id string, now time.Time) (*domain.ReminderTask, error) {
	if f.replayFn != nil {
		return f.replayFn(ctx, id, now)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeadLetterRepo) Discard(ctx context.Context, id string, now time.Time) error {
	if f.discardFn != nil {
		return f.discardFn(ctx, id, now)
	}
	return nil
}

var _ repository.DeadLetterRepository = (*fakeDeadLetterRepo)(nil)

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.ReminderMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.ReminderMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

// recordingPublisher collects published messages so tests can feed them to a worker.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []queue.ReminderMessage
	failNext int
}

func (p *recordingPublisher) Publish(ctx context.Context, queueName string, msg queue.ReminderMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errBrokerDown
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) drain() []queue.ReminderMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.messages
	p.messages = nil
	return out
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeNotifier struct {
	sendFn func(ctx context.Context, recipients []domain.Recipient, payload provider.Payload) (*provider.ProviderResponse, error)
}

func (f *fakeNotifier) Send(ctx context.Context, recipients []domain.Recipient, payload provider.Payload) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, recipients, payload)
	}
	return &provider.ProviderResponse{StatusCode: 200, MessageIDs: []string{"msg-1"}}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, bucket string) (bool, error)
	waitFn  func(ctx context.Context, bucket string) error
	pauseFn func(ctx context.Context, bucket string, d time.Duration) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, bucket)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}

func (f *fakeRateLimiter) Pause(ctx context.Context, bucket string, d time.Duration) error {
	if f.pauseFn != nil {
		return f.pauseFn(ctx, bucket, d)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)
