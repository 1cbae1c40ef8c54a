package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"go.uber.org/zap"
)

const defaultLeaseScanInterval = 30 * time.Second

// LeaseReaper returns IN_FLIGHT tasks whose worker lease expired to PENDING. The attempt
// count is left unchanged.
type LeaseReaper struct {
	tasks    repository.TaskRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	now      func() time.Time
}

func NewLeaseReaper(tasks repository.TaskRepository, interval time.Duration, logger *zap.Logger) (*LeaseReaper, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if interval <= 0 {
		interval = defaultLeaseScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LeaseReaper{
		tasks:    tasks,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}, nil
}

func (r *LeaseReaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *LeaseReaper) Start(ctx context.Context) error {
	return runEvery(ctx, r.interval, r.logger, "lease reaper", func(ctx context.Context) error {
		_, err := r.ReclaimExpired(ctx, r.now())
		return err
	})
}

func (r *LeaseReaper) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	released, err := r.tasks.ReleaseExpiredLeases(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release expired leases: %w", err)
	}
	if released > 0 {
		r.metrics.AddLeasesReclaimed(int(released))
		r.logger.Warn("reclaimed reminder tasks with expired leases", zap.Int64("count", released))
	}
	return released, nil
}
