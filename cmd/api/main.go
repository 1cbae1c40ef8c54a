package main

import (
	"context"
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
	"github.com/gamescheduler/reminder-pipeline/internal/queue"
	"github.com/gamescheduler/reminder-pipeline/internal/repository"
	"github.com/gamescheduler/reminder-pipeline/internal/service"
	"github.com/gamescheduler/reminder-pipeline/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)

	metrics := observability.NewMetrics()

	events := repository.NewGormEventRepo(db)
	tasks := repository.NewGormTaskRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	deadLetters := repository.NewGormDeadLetterRepo(db)

	deadLetterService, err := service.NewDeadLetterService(deadLetters, tasks, publisher, logger)
	if err != nil {
		logger.Fatal("dead letter service init failed", zap.Error(err))
	}
	deadLetterService.SetMetrics(metrics)

	eventService, err := service.NewEventService(events, tasks, attempts, logger)
	if err != nil {
		logger.Fatal("event service init failed", zap.Error(err))
	}
	eventService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "reminder-pipeline-api",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterDeadLetterRoutes(app, deadLetterService); err != nil {
		logger.Fatal("dead letter routes init failed", zap.Error(err))
	}
	if err := handler.RegisterEventRoutes(app, eventService); err != nil {
		logger.Fatal("event routes init failed", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("reminder pipeline api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Fatal("api server failed", zap.Error(err))
	}
}
