// Package testutil provides helpers shared by stacksampler tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout bounds tests that wait on sampling goroutines.
const DefaultTimeout = 30 * time.Second

// Context returns a context canceled when the test ends or after
// DefaultTimeout.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}
