package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(60))
}

func TestPolicy_DelayUncappedDoesNotOverflow(t *testing.T) {
	p := Policy{InitialBackoff: time.Hour, Multiplier: 10}
	assert.Equal(t, time.Duration(1<<63-1), p.Delay(40))
}

func TestPolicy_ZeroBackoffNeverWaits(t *testing.T) {
	p := Unbounded()
	for i := 1; i < 5; i++ {
		assert.Zero(t, p.Delay(i))
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	assert.False(t, Unbounded().Exhausted(1_000_000))

	p := Policy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, Unbounded().Validate())
	require.NoError(t, Policy{MaxAttempts: 5, InitialBackoff: time.Second, Multiplier: 2}.Validate())

	assert.Error(t, Policy{MaxAttempts: -1}.Validate())
	assert.Error(t, Policy{InitialBackoff: -time.Second}.Validate())
	assert.Error(t, Policy{Multiplier: 0.5}.Validate())
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerSleeper{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimerSleeper_Elapses(t *testing.T) {
	require.NoError(t, TimerSleeper{}.Sleep(context.Background(), time.Millisecond))
}
