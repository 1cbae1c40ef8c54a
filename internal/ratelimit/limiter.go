package ratelimit

import (
	"context"
	"time"
)

// RateLimiter controls outbound request throughput per rate-limit bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
	// Pause holds the bucket closed for d, as asked by a Discord 429.
	Pause(ctx context.Context, bucket string, d time.Duration) error
}

// DiscordGlobalBucket is shared by every bot request regardless of route.
const DiscordGlobalBucket = "discord:global"
