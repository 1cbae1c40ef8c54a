package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/config"
	"github.com/gamescheduler/reminder-pipeline/internal/handler"
	"github.com/gamescheduler/reminder-pipeline/internal/infra/postgresql"
	"github.com/gamescheduler/reminder-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/gamescheduler/reminder-pipeline/internal/infra/redis"
	"github.com/gamescheduler/reminder-pipeline/internal/observability"
	"github.com/gamescheduler/reminder-pipeline/internal/provider"
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/gamescheduler/reminder-pipeline/internal/service"
	"github.com/gamescheduler/reminder-pipeline/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter init failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	notifier, err := provider.NewDiscordNotifier(cfg.DiscordAPIURL, cfg.DiscordBotToken)
	if err != nil {
		logger.Fatal("discord notifier init failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	events := repository.NewGormEventRepo(db)
	tasks := repository.NewGormTaskRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	scheduler, err := service.NewScheduler(events, tasks, publisher, cfg.ScanInterval, cfg.LookaheadWindow, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(tasks, publisher, cfg.RetryScanInterval, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("retry scanner init failed", zap.Error(err))
	}
	retryScanner.SetMetrics(metrics)

	leaseReaper, err := service.NewLeaseReaper(tasks, cfg.LeaseScanInterval, logger)
	if err != nil {
		logger.Fatal("lease reaper init failed", zap.Error(err))
	}
	leaseReaper.SetMetrics(metrics)

	coordinator, err := service.NewRetryCoordinator(tasks, attempts, service.NewBackoff(cfg.BaseDelay, cfg.MaxDelay), cfg.MaxAttempts, logger)
	if err != nil {
		logger.Fatal("retry coordinator init failed", zap.Error(err))
	}
	coordinator.SetMetrics(metrics)

	worker, err := service.NewWorkerService(
		events, tasks, attempts,
		consumer, notifier, rateLimiter, coordinator,
		cfg.WorkerConcurrency,
		service.WorkerTimeouts{Lease: cfg.LeaseTimeout, Send: cfg.SendTimeout},
		logger,
	)
	if err != nil {
		logger.Fatal("worker service init failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "reminder-pipeline-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })
	g.Go(func() error { return leaseReaper.Start(groupCtx) })
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("reminder pipeline worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited with error", zap.Error(err))
		return
	}
	logger.Info("reminder pipeline worker stopped")
}
