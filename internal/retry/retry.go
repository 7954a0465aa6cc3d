// Package retry polls an operation with capped exponential backoff until it
// reports completion or its context ends.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff describes the delay between attempts.
type Backoff struct {
	// Initial is the delay after the first attempt. Must be positive.
	Initial time.Duration
	// Max caps the delay. Zero means no cap.
	Max time.Duration
	// Jitter adds up to this fraction of the delay at random (0.0 to 1.0).
	Jitter float64
}

// Delay returns the wait after the given attempt, counting from 1:
// Initial * 2^(attempt-1), capped at Max, plus jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

// Poll calls fn until it returns done or an error. Between attempts it
// sleeps according to b. When ctx ends first, the context error is returned.
func Poll(ctx context.Context, b Backoff, fn func() (done bool, err error)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; ; attempt++ {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		timer.Reset(b.Delay(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
