package session

import (
	"context"
	"time"
)

// BackoffPolicy is a linear, capped retry delay.
type BackoffPolicy struct {
	Unit time.Duration
	Cap  time.Duration
}

// Delay returns min(Cap, attempt*Unit) for attempt >= 1 and zero otherwise.
// A zero Cap means uncapped.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Unit <= 0 {
		return 0
	}
	if p.Cap > 0 && int64(attempt) > int64(p.Cap/p.Unit) {
		return p.Cap
	}
	d := time.Duration(attempt) * p.Unit
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
