package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, b.Delay(0))
	assert.Equal(t, 10*time.Millisecond, b.Delay(1))
	assert.Equal(t, 20*time.Millisecond, b.Delay(2))
	assert.Equal(t, 40*time.Millisecond, b.Delay(3))
	assert.Equal(t, 50*time.Millisecond, b.Delay(4))
	assert.Equal(t, 50*time.Millisecond, b.Delay(100))
}

func TestDelayUncapped(t *testing.T) {
	b := Backoff{Initial: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, b.Delay(4))
}

func TestDelayJitter(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 20; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPollDoneImmediately(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Backoff{Initial: time.Hour}, func() (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPollDoneAfterAttempts(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Backoff{Initial: time.Millisecond}, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poll(context.Background(), Backoff{Initial: time.Millisecond}, func() (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPollContextCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Poll(ctx, Backoff{Initial: 5 * time.Millisecond}, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
