package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// Discord allows 50 requests per second per bot; stay under it across replicas.
	defaultLimitPerSec int64 = 40
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
	windowSeconds            = 1
	keyPrefix                = "ratelimit"
)

// acquireScript returns 0 when the request is admitted, -1 when this second's window is
// full, or the remaining pause in milliseconds while the bucket is paused.
var acquireScript = goredis.NewScript(`
local paused = redis.call("PTTL", KEYS[2])
if paused > 0 then
  return paused
end
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return -1
end
return 0
`)

// pauseScript only ever extends a pause.
var pauseScript = goredis.NewScript(`
local remaining = redis.call("PTTL", KEYS[1])
if remaining < tonumber(ARGV[1]) then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[1])
  return 1
end
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a per-second fixed-window limiter shared by every worker replica.
// A bucket can also be paused for the duration Discord asks for in a 429 response, which
// holds back every replica until the pause expires.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(
		client,
		int64(limitPerSec),
		time.Now,
		sleepWithContext,
	)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	wait, err := r.acquire(ctx, bucket)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until the bucket admits one request or ctx is done. A paused bucket is
// waited out in one sleep; a full window is polled with a short growing backoff.
func (r *RedisRateLimiter) Wait(ctx context.Context, bucket string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		wait, err := r.acquire(ctx, bucket)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		delay := backoff
		if wait > 0 {
			delay = wait
		} else {
			backoff += backoffStep
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Pause blocks the bucket for d on every replica. A shorter pause never cuts an
// existing one short.
func (r *RedisRateLimiter) Pause(ctx context.Context, bucket string, d time.Duration) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("rate limiter is not initialized")
	}
	normalized, err := normalizeBucket(bucket)
	if err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	if ctx == nil {
		ctx = context.Background()
	}

	until := r.now().UTC().Add(d).Format(time.RFC3339Nano)
	if err := pauseScript.Run(ctx, r.client, []string{pauseKey(normalized)}, d.Milliseconds(), until).Err(); err != nil {
		return fmt.Errorf("failed to pause rate limit bucket %s: %w", normalized, err)
	}
	return nil
}

// acquire returns 0 when admitted, a negative duration when the window is full and the
// remaining pause when the bucket is paused.
func (r *RedisRateLimiter) acquire(ctx context.Context, bucket string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	normalized, err := normalizeBucket(bucket)
	if err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	windowKey := fmt.Sprintf("%s:%s:%d", keyPrefix, normalized, r.now().UTC().Unix())
	result, err := acquireScript.Run(ctx, r.client,
		[]string{windowKey, pauseKey(normalized)},
		r.limitPerSec, windowSeconds,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	switch {
	case result == 0:
		return 0, nil
	case result < 0:
		return -1, nil
	default:
		return time.Duration(result) * time.Millisecond, nil
	}
}

func normalizeBucket(bucket string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(bucket))
	if normalized == "" {
		return "", fmt.Errorf("bucket is required")
	}
	return normalized, nil
}

func pauseKey(bucket string) string {
	return keyPrefix + ":" + bucket + ":pause"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
