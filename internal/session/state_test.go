package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateFaulted, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateFaulted, true},
		{StateFaulted, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateFaulted, StateConnected, false},
		{StateConnected, StateConnecting, false},
		{State("bogus"), StateConnecting, false},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.Error(t, err, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestBackoffGrowsAndResets(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2})
	ctx := context.Background()

	assert.Equal(t, time.Millisecond, b.CurrentDelay())
	for _, want := range []time.Duration{2, 4, 4} {
		assert.NoError(t, b.Wait(ctx))
		assert.Equal(t, want*time.Millisecond, b.CurrentDelay())
	}

	b.Reset()
	assert.Equal(t, time.Millisecond, b.CurrentDelay())
}

func TestBackoffWaitIsInterruptible(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Hour, Max: time.Hour, Multiplier: 2})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, time.Hour, b.CurrentDelay())
}

func TestBackoffNormalizesConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	assert.Equal(t, DefaultBackoff.Initial, b.CurrentDelay())
}
