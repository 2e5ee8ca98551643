package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	p := BackoffPolicy{Unit: 30 * time.Second, Cap: 2 * time.Minute}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 30*time.Second, p.Delay(1))
	assert.Equal(t, 60*time.Second, p.Delay(2))
	assert.Equal(t, 90*time.Second, p.Delay(3))
	assert.Equal(t, 2*time.Minute, p.Delay(4))
	assert.Equal(t, 2*time.Minute, p.Delay(5))
	assert.Equal(t, 2*time.Minute, p.Delay(1<<40))
}

func TestBackoffPolicy_MinOfCapAndLinear(t *testing.T) {
	p := BackoffPolicy{Unit: 7 * time.Second, Cap: 50 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 100; attempt++ {
		want := time.Duration(attempt) * p.Unit
		if want > p.Cap {
			want = p.Cap
		}
		got := p.Delay(attempt)
		assert.Equal(t, want, got, "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev, "delay must be non-decreasing")
		prev = got
	}
}

func TestBackoffPolicy_Uncapped(t *testing.T) {
	p := BackoffPolicy{Unit: time.Second}
	assert.Equal(t, 100*time.Second, p.Delay(100))
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
