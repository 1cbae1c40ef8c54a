package service

import (
	"math/rand"
	"time"
)

const (
	defaultBaseDelay = 30 * time.Second
	defaultMaxDelay  = 30 * time.Minute

	jitterLow  = 0.75
	jitterSpan = 0.5
)

// Backoff computes retry delays as base * 2^(attempt-1), scaled by a jitter factor in
// [0.75, 1.25) and capped at max. Uncapped delays strictly increase with the attempt number.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	float64 func() float64
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	if max < base {
		max = base
	}

	return &Backoff{
		base:    base,
		max:     max,
		float64: rand.Float64,
	}
}

// Delay returns the wait before the attempt after attemptNumber failed attempts.
func (b *Backoff) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := b.base
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= b.max {
			return b.max
		}
	}

	factor := jitterLow
	if b.float64 != nil {
		factor += b.float64() * jitterSpan
	}

	jittered := time.Duration(float64(delay) * factor)
	if jittered > b.max {
		return b.max
	}
	return jittered
}
