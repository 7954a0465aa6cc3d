// Package sampler implements a statistical stack-sampling profiler. An Engine
// periodically captures the stacks of a set of threads and counts how often
// each distinct thread-tagged stack is observed. Snapshots are returned as
// hprof.Data.
package sampler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "sampling_engine").Logger()
	}
}

// WithMetrics attaches self-telemetry collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces the wall clock used for period start times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine samples thread stacks on a fixed interval.
//
// Control operations (Start, Stop, Shutdown, HprofData) are serialized and
// never wait for more than the tick in flight. A tick captures every thread
// before touching the sample table and then records all of its captures
// atomically.
type Engine struct {
	depth    int
	threads  ThreadSet
	capturer Capturer
	logger   zerolog.Logger
	metrics  *Metrics
	now      func() time.Time

	table  *Table
	events *EventLog
	closed atomic.Bool

	mu          sync.Mutex
	state       State
	interval    time.Duration
	startMillis int64
	stop        chan struct{}
	done        chan struct{}

	// Contents frozen at Shutdown.
	finalSamples []hprof.Sample
	finalEvents  []hprof.ThreadEvent
}

// New creates an engine in the Created state. No sampling happens until Start.
func New(depth int, threads ThreadSet, capturer Capturer, opts ...Option) (*Engine, error) {
	if depth < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	if threads == nil {
		return nil, ErrNilThreadSet
	}
	if capturer == nil {
		return nil, ErrNilCapturer
	}

	e := &Engine{
		depth:    depth,
		threads:  threads,
		capturer: capturer,
		logger:   zerolog.Nop(),
		now:      time.Now,
		table:    NewTable(),
		events:   NewEventLog(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Depth returns the maximum number of frames kept per capture.
func (e *Engine) Depth() int {
	return e.depth
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start begins sampling every interval. Starting a running engine restarts
// it with the new interval. Samples accumulate across periods.
func (e *Engine) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateShutdown {
		return fmt.Errorf("%w: start after shutdown", ErrInvalidState)
	}
	if e.state == StateRunning {
		e.stopLocked()
	}

	e.interval = interval
	e.startMillis = e.now().UnixMilli()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(interval, e.stop, e.done)
	e.state = StateRunning

	e.logger.Info().
		Dur("interval", interval).
		Int("depth", e.depth).
		Msg("Starting stack sampling")
	return nil
}

// StartMillis is Start with the interval given in milliseconds.
func (e *Engine) StartMillis(ms int) error {
	return e.Start(time.Duration(ms) * time.Millisecond)
}

// Stop halts sampling and keeps the collected data. Stopping an engine that
// is not running has no effect.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return
	}
	e.stopLocked()
	e.state = StateStopped
	e.logger.Info().Int("unique_stacks", e.table.Len()).Msg("Stopped stack sampling")
}

// Shutdown stops sampling and releases the sample table. The data collected
// up to this point remains available from HprofData. Calling Shutdown more
// than once has no effect.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateShutdown {
		return
	}
	if e.state == StateRunning {
		e.stopLocked()
	}

	e.closed.Store(true)
	e.finalSamples = e.table.Samples()
	e.finalEvents = e.events.Events()
	e.table.Reset()
	e.events.reset()
	e.state = StateShutdown

	e.logger.Info().Int("unique_stacks", len(e.finalSamples)).Msg("Sampling engine shut down")
}

// HprofData returns a snapshot of everything collected so far. The snapshot
// is independent of the engine: later ticks never change it. Snapshots are
// not taken while sampling is running.
func (e *Engine) HprofData() (*hprof.Data, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		samples []hprof.Sample
		events  []hprof.ThreadEvent
	)
	switch e.state {
	case StateRunning:
		return nil, fmt.Errorf("%w: snapshot while running", ErrInvalidState)
	case StateShutdown:
		samples, events = e.finalSamples, e.finalEvents
	default:
		samples, events = e.table.Samples(), e.events.Events()
	}

	data := hprof.NewData(e.depth, hprof.FlagCPUSampling)
	data.SetStartMillis(e.startMillis)
	for _, ev := range events {
		data.AddThreadEvent(ev)
	}
	for _, s := range samples {
		data.AddStackTrace(s.Trace, s.Count)
	}
	return data, nil
}

// AddThreadEvent records a thread lifecycle event. It is safe to call from
// any goroutine, including from inside a tick. Events arriving after
// Shutdown are dropped.
func (e *Engine) AddThreadEvent(ev hprof.ThreadEvent) {
	if e.closed.Load() {
		return
	}
	e.events.AddThreadEvent(ev)
}

// stopLocked signals the sampling goroutine and waits for the tick in flight.
func (e *Engine) stopLocked() {
	close(e.stop)
	<-e.done
	e.stop, e.done = nil, nil
}

func (e *Engine) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			e.tick()
		}
	}
}

// tick captures every thread in the set and records the results as one batch.
func (e *Engine) tick() {
	began := time.Now()

	if p, ok := e.capturer.(Preparer); ok {
		if err := p.Prepare(); err != nil {
			e.metrics.prepareFailed()
			e.logger.Warn().Err(err).Msg("Failed to prepare stack capture, skipping tick")
			return
		}
	}

	threads := e.threads.Threads()
	batch := make([]Capture, 0, len(threads))
	for _, t := range threads {
		if t == nil {
			continue
		}
		frames, err := safeCapture(e.capturer, t)
		if err != nil {
			e.metrics.captureFailed()
			e.logger.Debug().Err(err).Int("thread_id", t.ThreadID()).Msg("Skipping thread")
			continue
		}
		if len(frames) > e.depth {
			frames = frames[:e.depth]
		}
		batch = append(batch, Capture{ThreadID: t.ThreadID(), Frames: frames})
	}

	e.table.RecordBatch(batch)
	e.metrics.observeTick(time.Since(began), len(batch), e.table.Len())
}
