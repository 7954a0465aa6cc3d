package sampler

import (
	"fmt"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// Capturer reads the current stack of a thread, innermost frame first. It
// returns an error wrapping ErrNotCapturable when the thread has gone away.
type Capturer interface {
	Capture(t Thread) ([]hprof.StackFrame, error)
}

// Preparer is implemented by capturers that need to take a process-wide
// snapshot once per tick before individual threads are captured.
type Preparer interface {
	Prepare() error
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(t Thread) ([]hprof.StackFrame, error)

// Capture calls f(t).
func (f CapturerFunc) Capture(t Thread) ([]hprof.StackFrame, error) {
	return f(t)
}

// safeCapture converts a panicking capturer into a capture failure.
func safeCapture(c Capturer, t Thread) (frames []hprof.StackFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			frames = nil
			err = fmt.Errorf("%w: capture panicked: %v", ErrNotCapturable, r)
		}
	}()
	return c.Capture(t)
}
