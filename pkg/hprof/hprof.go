// Package hprof holds the data model produced by the sampling profiler: stack
// frames, thread-tagged stack traces, samples, thread lifecycle events and the
// Data snapshot consumed by the ASCII, binary and pprof writers.
package hprof

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

var (
	// ErrInvalidDepth is returned when a sampling depth below one is supplied.
	ErrInvalidDepth = errors.New("hprof: depth must be at least 1")

	// ErrBadFormat is returned by readers for malformed input.
	ErrBadFormat = errors.New("hprof: malformed input")
)

// Line numbers with a special meaning, matching the HPROF FRAME record.
const (
	LineUnknown  = -1
	LineCompiled = -2
	LineNative   = -3
)

// Flags is the CONTROL_SETTINGS bitmask.
type Flags uint32

const (
	// FlagAllocTraces marks a profile carrying allocation traces.
	FlagAllocTraces Flags = 0x1
	// FlagCPUSampling marks a profile produced by CPU stack sampling.
	FlagCPUSampling Flags = 0x2
)

// StackFrame is one entry of a captured stack.
type StackFrame struct {
	Class  string // declaring unit (package, type or class)
	Method string
	File   string // empty when unknown
	Line   int
}

// String renders the frame the way a JVM prints a stack element.
func (f StackFrame) String() string {
	name := f.Method
	if f.Class != "" {
		name = f.Class + "." + f.Method
	}
	switch {
	case f.Line == LineNative:
		return name + "(Native Method)"
	case f.File == "":
		return name + "(Unknown Source)"
	case f.Line > 0:
		return name + "(" + f.File + ":" + strconv.Itoa(f.Line) + ")"
	default:
		return name + "(" + f.File + ")"
	}
}

// StackTrace is an immutable, thread-tagged sequence of frames ordered
// innermost first. The id is a dedup key assigned at first occurrence and is not
// part of the trace identity.
type StackTrace struct {
	id       int
	threadID int
	frames   []StackFrame
	key      uint64
}

// NewStackTrace copies frames into a new trace.
func NewStackTrace(id, threadID int, frames []StackFrame) *StackTrace {
	owned := make([]StackFrame, len(frames))
	copy(owned, frames)
	return &StackTrace{
		id:       id,
		threadID: threadID,
		frames:   owned,
		key:      TraceKey(threadID, owned),
	}
}

// ID returns the trace id.
func (t *StackTrace) ID() int { return t.id }

// ThreadID returns the id of the thread the trace was captured on.
func (t *StackTrace) ThreadID() int { return t.threadID }

// Len returns the number of frames.
func (t *StackTrace) Len() int { return len(t.frames) }

// Frame returns the i-th frame, innermost first.
func (t *StackTrace) Frame(i int) StackFrame { return t.frames[i] }

// Frames returns a copy of the frames.
func (t *StackTrace) Frames() []StackFrame {
	out := make([]StackFrame, len(t.frames))
	copy(out, t.frames)
	return out
}

// Key returns the bucket hash of the trace. Equal keys do not imply equal traces.
func (t *StackTrace) Key() uint64 { return t.key }

// SameBucket reports whether two traces belong to the same sample bucket:
// same thread and same frames. Trace ids are ignored.
func (t *StackTrace) SameBucket(o *StackTrace) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.key != o.key {
		return false
	}
	return t.Matches(o.threadID, o.frames)
}

// Matches reports whether the trace has the given thread id and frames.
func (t *StackTrace) Matches(threadID int, frames []StackFrame) bool {
	if t.threadID != threadID || len(t.frames) != len(frames) {
		return false
	}
	for i := range frames {
		if t.frames[i] != frames[i] {
			return false
		}
	}
	return true
}

// TraceKey hashes a thread id and frame sequence with xxh3.
func TraceKey(threadID int, frames []StackFrame) uint64 {
	buf := make([]byte, 0, 16+len(frames)*48)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(threadID)))
	for _, f := range frames {
		buf = appendField(buf, f.Class)
		buf = appendField(buf, f.Method)
		buf = appendField(buf, f.File)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(f.Line)))
	}
	return xxh3.Hash(buf)
}

func appendField(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Sample pairs a stack trace with its occurrence count at snapshot time.
type Sample struct {
	Trace *StackTrace
	Count int
}

// ThreadEventType distinguishes thread start and end events.
type ThreadEventType int

const (
	ThreadStart ThreadEventType = iota
	ThreadEnd
)

func (t ThreadEventType) String() string {
	switch t {
	case ThreadStart:
		return "START"
	case ThreadEnd:
		return "END"
	default:
		return fmt.Sprintf("ThreadEventType(%d)", int(t))
	}
}

// ThreadEvent records a thread creation or death. Names are captured when the
// event is created and never re-queried.
type ThreadEvent struct {
	Type            ThreadEventType
	ObjectID        int
	ThreadID        int
	ThreadName      string
	GroupName       string
	ParentGroupName string
}

// StartEvent builds a START event.
func StartEvent(objectID, threadID int, threadName, groupName, parentGroupName string) ThreadEvent {
	return ThreadEvent{
		Type:            ThreadStart,
		ObjectID:        objectID,
		ThreadID:        threadID,
		ThreadName:      threadName,
		GroupName:       groupName,
		ParentGroupName: parentGroupName,
	}
}

// EndEvent builds an END event, which only carries the thread id.
func EndEvent(threadID int) ThreadEvent {
	return ThreadEvent{Type: ThreadEnd, ThreadID: threadID}
}

func (e ThreadEvent) String() string {
	if e.Type == ThreadEnd {
		return fmt.Sprintf("THREAD END (id = %d)", e.ThreadID)
	}
	return fmt.Sprintf("THREAD START (obj=%d, id = %d, name=%q, group=%q)",
		e.ObjectID, e.ThreadID, e.ThreadName, e.GroupName)
}

// Data is a point-in-time profile: the start of the last sampling period,
// control flags, sampling depth, thread history and deduplicated samples.
// Values added to Data are copies; later mutation of the producer never
// reaches a Data that was already handed out.
type Data struct {
	mu          sync.RWMutex
	startMillis int64
	flags       Flags
	depth       int
	history     []ThreadEvent
	samples     []*Sample
	buckets     map[uint64][]int
}

// NewData returns an empty snapshot.
func NewData(depth int, flags Flags) *Data {
	return &Data{
		depth:   depth,
		flags:   flags,
		buckets: make(map[uint64][]int),
	}
}

// StartMillis returns the start of the last sampling period in Unix milliseconds.
func (d *Data) StartMillis() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startMillis
}

// StartTime returns StartMillis as a time.
func (d *Data) StartTime() time.Time {
	return time.UnixMilli(d.StartMillis())
}

// SetStartMillis sets the start of the sampling period.
func (d *Data) SetStartMillis(ms int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startMillis = ms
}

// Flags returns the CONTROL_SETTINGS flags.
func (d *Data) Flags() Flags {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flags
}

// SetFlags replaces the CONTROL_SETTINGS flags.
func (d *Data) SetFlags(flags Flags) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flags = flags
}

// Depth returns the stack sampling depth.
func (d *Data) Depth() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.depth
}

// SetDepth sets the stack sampling depth.
func (d *Data) SetDepth(depth int) error {
	if depth < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth = depth
	return nil
}

// AddThreadEvent appends an event to the thread history.
func (d *Data) AddThreadEvent(ev ThreadEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, ev)
}

// ThreadHistory returns the thread events recorded so far, in insertion order.
func (d *Data) ThreadHistory() []ThreadEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ThreadEvent, len(d.history))
	copy(out, d.history)
	return out
}

// AddStackTrace records a trace with the given count. A trace in the same
// bucket as one already recorded is merged into it.
func (d *Data) AddStackTrace(trace *StackTrace, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, idx := range d.buckets[trace.Key()] {
		if d.samples[idx].Trace.SameBucket(trace) {
			d.samples[idx].Count += count
			return
		}
	}
	d.buckets[trace.Key()] = append(d.buckets[trace.Key()], len(d.samples))
	d.samples = append(d.samples, &Sample{Trace: trace, Count: count})
}

// Samples returns a fresh copy of the samples ordered by trace id.
func (d *Data) Samples() []Sample {
	d.mu.RLock()
	out := make([]Sample, len(d.samples))
	for i, s := range d.samples {
		out[i] = *s
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Trace.ID() < out[j].Trace.ID() })
	return out
}

// TotalSamples returns the sum of all sample counts.
func (d *Data) TotalSamples() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, s := range d.samples {
		total += s.Count
	}
	return total
}
