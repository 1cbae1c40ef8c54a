package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		2,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("first call should be allowed")
	}

	allowed, err = limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("second call should be allowed")
	}

	allowed, err = limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by rate limit")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new second window should allow call")
	}
}

func TestRedisRateLimiterAllowPerBucket(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow(global) error = %v", err)
	}
	if !allowed {
		t.Fatal("global bucket should be allowed on first request")
	}

	allowed, err = limiter.Allow(context.Background(), "discord:channel:123")
	if err != nil {
		t.Fatalf("Allow(channel) error = %v", err)
	}
	if !allowed {
		t.Fatal("channel bucket should be allowed on first request")
	}

	allowed, err = limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow(global) error = %v", err)
	}
	if allowed {
		t.Fatal("global bucket second request should be rejected")
	}
}

func TestRedisRateLimiterWait(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	sleepCalls := 0
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			sleepCalls++
			if sleepCalls == 1 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("expected first call to be allowed")
	}

	if err := limiter.Wait(context.Background(), "discord:global"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if sleepCalls == 0 {
		t.Fatal("expected Wait() to sleep at least once")
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("expected first call to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "discord:global")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	_, rdb := newTestRedis(t)
	return rdb
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}

func TestRedisRateLimiterRejectsEmptyBucket(t *testing.T) {
	t.Parallel()

	limiter, err := NewRedisRateLimiter(newTestRedisClient(t), 0)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	if limiter.limitPerSec != defaultLimitPerSec {
		t.Fatalf("limitPerSec = %d, want default %d", limiter.limitPerSec, defaultLimitPerSec)
	}

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow() with empty bucket should fail")
	}
}

func TestRedisRateLimiterPauseIsSharedAcrossReplicas(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_400, 0)
	clock := func() time.Time { return now }
	first, err := newRedisRateLimiter(rdb, 10, clock, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	second, err := newRedisRateLimiter(rdb, 10, clock, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := first.Pause(context.Background(), "discord:global", 2*time.Second); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	allowed, err := second.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("paused bucket should reject requests from every replica")
	}

	allowed, err = second.Allow(context.Background(), "discord:channel:123")
	if err != nil {
		t.Fatalf("Allow(channel) error = %v", err)
	}
	if !allowed {
		t.Fatal("pause must only hold the paused bucket")
	}

	mr.FastForward(2 * time.Second)
	now = now.Add(2 * time.Second)

	allowed, err = second.Allow(context.Background(), "discord:global")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("bucket should admit requests once the pause expires")
	}
}

func TestRedisRateLimiterPauseNeverShortens(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	limiter, err := newRedisRateLimiter(rdb, 10, time.Now, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	ctx := context.Background()
	if err := limiter.Pause(ctx, "discord:global", 5*time.Second); err != nil {
		t.Fatalf("Pause(5s) error = %v", err)
	}
	if err := limiter.Pause(ctx, "discord:global", time.Second); err != nil {
		t.Fatalf("Pause(1s) error = %v", err)
	}

	if ttl := mr.TTL(pauseKey("discord:global")); ttl != 5*time.Second {
		t.Fatalf("pause ttl = %s, want 5s", ttl)
	}

	if err := limiter.Pause(ctx, "discord:global", 8*time.Second); err != nil {
		t.Fatalf("Pause(8s) error = %v", err)
	}
	if ttl := mr.TTL(pauseKey("discord:global")); ttl != 8*time.Second {
		t.Fatalf("pause ttl = %s, want 8s", ttl)
	}

	if err := limiter.Pause(ctx, "discord:global", 0); err != nil {
		t.Fatalf("Pause(0) error = %v", err)
	}
	if err := limiter.Pause(ctx, " ", time.Second); err == nil {
		t.Fatal("Pause() with empty bucket should fail")
	}
}

func TestRedisRateLimiterWaitSleepsOutPause(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_500, 0)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(
		rdb,
		10,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			mr.FastForward(d)
			now = now.Add(d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Pause(context.Background(), "discord:global", 1500*time.Millisecond); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "discord:global"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if len(slept) != 1 || slept[0] != 1500*time.Millisecond {
		t.Fatalf("sleeps = %v, want a single 1.5s sleep", slept)
	}
}
