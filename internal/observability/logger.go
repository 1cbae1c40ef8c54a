package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type correlationIDKey struct{}

// NewLogger builds the JSON production logger. component is attached to every entry.
func NewLogger(level string, component string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	opts := []zap.Option{zap.AddCaller()}
	if c := strings.TrimSpace(component); c != "" {
		opts = append(opts, zap.Fields(zap.String("component", c)))
	}

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithCorrelationID stores a request id or task id for log correlation.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	correlationID, ok := CorrelationIDFromContext(ctx)
	if !ok {
		return logger
	}

	return logger.With(zap.String("correlationId", correlationID))
}

// TaskFields are the standard fields logged for a reminder task.
func TaskFields(task *domain.ReminderTask) []zap.Field {
	if task == nil {
		return nil
	}

	return []zap.Field{
		zap.String("taskId", task.ID),
		zap.String("eventId", task.EventID),
		zap.Int("offsetMinutes", task.OffsetMinutes),
		zap.Int("cycle", task.Cycle),
		zap.Int("attemptCount", task.AttemptCount),
		zap.String("status", task.Status.String()),
	}
}
