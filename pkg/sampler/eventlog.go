package sampler

import (
	"sync"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// EventSink receives thread lifecycle events.
type EventSink interface {
	AddThreadEvent(ev hprof.ThreadEvent)
}

// EventLog is an append-only, insertion-ordered record of thread events.
type EventLog struct {
	mu     sync.RWMutex
	events []hprof.ThreadEvent
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// AddThreadEvent appends ev unconditionally.
func (l *EventLog) AddThreadEvent(ev hprof.ThreadEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Events returns a copy of the events recorded so far.
func (l *EventLog) Events() []hprof.ThreadEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]hprof.ThreadEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *EventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ev hprof.ThreadEvent)

// AddThreadEvent calls f(ev).
func (f EventSinkFunc) AddThreadEvent(ev hprof.ThreadEvent) {
	f(ev)
}
