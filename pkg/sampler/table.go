package sampler

import (
	"sync"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// Handle refers to a counter in a Table. Handles stay valid until the table
// is reset.
type Handle int

// Capture is one thread's stack as taken during a tick, already truncated to
// the sampling depth.
type Capture struct {
	ThreadID int
	Frames   []hprof.StackFrame
}

type tableEntry struct {
	trace *hprof.StackTrace
	count int
}

// Table maps thread-tagged stack traces to occurrence counters. Entries are
// bucketed by an xxh3 hash of the trace and compared structurally within a
// bucket, so colliding traces never share a counter.
type Table struct {
	mu      sync.Mutex
	buckets map[uint64][]Handle
	entries []tableEntry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{buckets: make(map[uint64][]Handle)}
}

// Lookup returns the handle of the entry for the given trace, if present.
func (t *Table) Lookup(threadID int, frames []hprof.StackFrame) (Handle, bool) {
	key := hprof.TraceKey(threadID, frames)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(key, threadID, frames)
}

// Increment bumps the counter behind h.
func (t *Table) Increment(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[h].count++
}

// Record counts one occurrence of the trace, inserting it with a count of one
// the first time it is seen.
func (t *Table) Record(threadID int, frames []hprof.StackFrame) Handle {
	key := hprof.TraceKey(threadID, frames)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked(key, threadID, frames)
}

// RecordBatch counts every capture under a single lock acquisition, so
// readers observe either none or all of the batch.
func (t *Table) RecordBatch(batch []Capture) {
	if len(batch) == 0 {
		return
	}
	keys := make([]uint64, len(batch))
	for i, c := range batch {
		keys[i] = hprof.TraceKey(c.ThreadID, c.Frames)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range batch {
		t.recordLocked(keys[i], c.ThreadID, c.Frames)
	}
}

// Count returns the counter behind h.
func (t *Table) Count(h Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[h].count
}

// Trace returns the trace behind h.
func (t *Table) Trace(h Handle) *hprof.StackTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[h].trace
}

// Len returns the number of distinct traces.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Samples returns the counters as of now. Traces are immutable and shared;
// the counts are copied.
func (t *Table) Samples() []hprof.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]hprof.Sample, len(t.entries))
	for i, e := range t.entries {
		out[i] = hprof.Sample{Trace: e.trace, Count: e.count}
	}
	return out
}

// Reset drops every entry. Outstanding handles become invalid.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[uint64][]Handle)
	t.entries = nil
}

func (t *Table) lookupLocked(key uint64, threadID int, frames []hprof.StackFrame) (Handle, bool) {
	for _, h := range t.buckets[key] {
		if t.entries[h].trace.Matches(threadID, frames) {
			return h, true
		}
	}
	return 0, false
}

func (t *Table) recordLocked(key uint64, threadID int, frames []hprof.StackFrame) Handle {
	if h, ok := t.lookupLocked(key, threadID, frames); ok {
		t.entries[h].count++
		return h
	}
	h := Handle(len(t.entries))
	// Trace ids start at 1; zero is the null serial in HPROF records.
	trace := hprof.NewStackTrace(len(t.entries)+1, threadID, frames)
	t.entries = append(t.entries, tableEntry{trace: trace, count: 1})
	t.buckets[key] = append(t.buckets[key], h)
	return h
}
