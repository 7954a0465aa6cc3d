package sampler

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// engine's current state: Start after Shutdown, or HprofData while Running.
	ErrInvalidState = errors.New("sampler: invalid state")

	// ErrInvalidDepth is returned for a maximum stack depth below one.
	ErrInvalidDepth = errors.New("sampler: depth must be positive")

	// ErrInvalidInterval is returned for a non-positive sampling interval.
	ErrInvalidInterval = errors.New("sampler: interval must be positive")

	// ErrNilThreadSet is returned when no thread set is supplied.
	ErrNilThreadSet = errors.New("sampler: thread set is required")

	// ErrNilCapturer is returned when no capture primitive is supplied.
	ErrNilCapturer = errors.New("sampler: capturer is required")

	// ErrNotCapturable is wrapped by capture primitives when a thread's stack
	// cannot be read, typically because the thread has already terminated.
	ErrNotCapturable = errors.New("sampler: thread not capturable")
)
