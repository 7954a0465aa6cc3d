// Package goroutine samples the goroutines of the current process. A Source
// takes one runtime.Stack dump per tick and serves per-goroutine captures out
// of it. Goroutines are grouped by the function that created them.
package goroutine

import (
	"bytes"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
	"github.com/coral-mesh/stacksampler/pkg/sampler"
)

const (
	// RootGroupName names the group holding goroutines without a creator.
	RootGroupName = "main"
	// SystemGroupName is reported as the parent of the root group.
	SystemGroupName = "system"

	initialBufferSize = 64 * 1024
	maxBufferSize     = 64 * 1024 * 1024
)

// Goroutine is a handle to a goroutine seen in a dump.
type Goroutine struct {
	id      int
	creator string
}

// ThreadID returns the goroutine id.
func (g *Goroutine) ThreadID() int { return g.id }

// Describe names the goroutine after its id and creator.
func (g *Goroutine) Describe() sampler.ThreadInfo {
	info := sampler.ThreadInfo{
		ObjectID:    g.id,
		Name:        "goroutine " + strconv.Itoa(g.id),
		Group:       RootGroupName,
		ParentGroup: SystemGroupName,
	}
	if g.creator != "" {
		info.Group = g.creator
		info.ParentGroup = RootGroupName
	}
	return info
}

type snapshot struct {
	frames    map[int][]hprof.StackFrame
	roots     []sampler.Thread
	byCreator map[string][]sampler.Thread
	creators  []string
}

// Source captures goroutine stacks of the running process.
type Source struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	buf     []byte
	current *snapshot
	handles map[int]*Goroutine
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the source logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) {
		s.logger = logger.With().Str("component", "goroutine_source").Logger()
	}
}

// NewSource returns a Source with no snapshot. Prepare must run before any
// goroutine can be enumerated or captured.
func NewSource(opts ...Option) *Source {
	s := &Source{
		logger:  zerolog.Nop(),
		buf:     make([]byte, initialBufferSize),
		current: &snapshot{frames: map[int][]hprof.StackFrame{}, byCreator: map[string][]sampler.Thread{}},
		handles: make(map[int]*Goroutine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare dumps every goroutine and replaces the current snapshot. The
// calling goroutine is left out of the snapshot.
func (s *Source) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dump := s.dumpLocked()
	records, err := Parse(bytes.NewReader(dump))
	if err != nil {
		return fmt.Errorf("parse goroutine dump: %w", err)
	}
	if len(records) > 0 {
		records = records[1:]
	}

	snap := &snapshot{
		frames:    make(map[int][]hprof.StackFrame, len(records)),
		byCreator: make(map[string][]sampler.Thread),
	}
	handles := make(map[int]*Goroutine, len(records))
	for _, rec := range records {
		g, ok := s.handles[rec.ID]
		if !ok || g.creator != rec.CreatedBy {
			g = &Goroutine{id: rec.ID, creator: rec.CreatedBy}
		}
		handles[rec.ID] = g
		snap.frames[rec.ID] = rec.Frames

		if rec.CreatedBy == "" {
			snap.roots = append(snap.roots, g)
			continue
		}
		if _, seen := snap.byCreator[rec.CreatedBy]; !seen {
			snap.creators = append(snap.creators, rec.CreatedBy)
		}
		snap.byCreator[rec.CreatedBy] = append(snap.byCreator[rec.CreatedBy], g)
	}
	sort.Strings(snap.creators)

	s.handles = handles
	s.current = snap
	s.logger.Trace().Int("goroutines", len(records)).Msg("Captured goroutine dump")
	return nil
}

// dumpLocked grows the buffer until the whole dump fits or the size cap is hit.
func (s *Source) dumpLocked() []byte {
	for {
		n := runtime.Stack(s.buf, true)
		if n < len(s.buf) || len(s.buf) >= maxBufferSize {
			return s.buf[:n]
		}
		s.buf = make([]byte, 2*len(s.buf))
	}
}

// Capture returns the frames of t from the last snapshot.
func (s *Source) Capture(t sampler.Thread) ([]hprof.StackFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frames, ok := s.current.frames[t.ThreadID()]
	if !ok {
		return nil, fmt.Errorf("%w: goroutine %d", sampler.ErrNotCapturable, t.ThreadID())
	}
	return frames, nil
}

// Root returns the group of goroutines that have no creator. Its child
// groups hold goroutines keyed by creating function.
func (s *Source) Root() sampler.Group {
	return rootGroup{s: s}
}

// ThreadSet returns a live ThreadSet over every goroutine in the last snapshot.
func (s *Source) ThreadSet() sampler.ThreadSet {
	return sampler.NewGroupThreadSet(s.Root())
}

func (s *Source) snapshot() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

type rootGroup struct {
	s *Source
}

func (g rootGroup) Name() string { return RootGroupName }

func (g rootGroup) Threads() []sampler.Thread {
	return g.s.snapshot().roots
}

func (g rootGroup) Groups() []sampler.Group {
	snap := g.s.snapshot()
	groups := make([]sampler.Group, len(snap.creators))
	for i, name := range snap.creators {
		groups[i] = creatorGroup{name: name, threads: snap.byCreator[name]}
	}
	return groups
}

type creatorGroup struct {
	name    string
	threads []sampler.Thread
}

func (g creatorGroup) Name() string              { return g.name }
func (g creatorGroup) Threads() []sampler.Thread { return g.threads }
func (g creatorGroup) Groups() []sampler.Group   { return nil }
