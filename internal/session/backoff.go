package session

import (
	"context"
	"time"
)

// BackoffConfig is the reconnect policy shared by every session.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff caps retries at five seconds.
var DefaultBackoff = BackoffConfig{
	Initial:    500 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
}

// Backoff implements exponential backoff. It is not safe for concurrent use;
// each supervisor owns one.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	currentDelay time.Duration
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultBackoff.Initial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{
		initialDelay: cfg.Initial,
		maxDelay:     cfg.Max,
		multiplier:   cfg.Multiplier,
		currentDelay: cfg.Initial,
	}
}

// Wait sleeps for the current delay and then grows it. It returns ctx.Err()
// if the context ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
}

func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}
