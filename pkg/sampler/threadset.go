package sampler

// Thread is a handle to a thread of execution that can be sampled.
type Thread interface {
	ThreadID() int
}

// ThreadInfo describes a thread at the moment it was observed.
type ThreadInfo struct {
	ObjectID    int
	Name        string
	Group       string
	ParentGroup string
}

// Describer is implemented by threads that can report names for thread
// lifecycle events.
type Describer interface {
	Describe() ThreadInfo
}

// ThreadSet decides which threads are sampled on each tick. The returned
// slice may contain nil slots, which are skipped.
type ThreadSet interface {
	Threads() []Thread
}

type arrayThreadSet struct {
	threads []Thread
}

// NewArrayThreadSet returns a ThreadSet over a fixed list of threads. It has
// no enumeration cost, which makes it the better choice for benchmarks where
// the thread population is known in advance.
func NewArrayThreadSet(threads ...Thread) ThreadSet {
	owned := make([]Thread, len(threads))
	copy(owned, threads)
	return &arrayThreadSet{threads: owned}
}

func (s *arrayThreadSet) Threads() []Thread {
	return s.threads
}

// Group is a named collection of threads and child groups. Implementations
// must tolerate concurrent thread creation and destruction while they are
// being enumerated; missing a thread created mid-enumeration is acceptable.
type Group interface {
	Name() string
	Threads() []Thread
	Groups() []Group
}

// maxGroupDepth bounds recursion through malformed group graphs.
const maxGroupDepth = 64

type groupThreadSet struct {
	root Group
}

// NewGroupThreadSet returns a ThreadSet that enumerates the live members of g
// and of all its descendants on every call.
func NewGroupThreadSet(g Group) ThreadSet {
	return &groupThreadSet{root: g}
}

func (s *groupThreadSet) Threads() []Thread {
	var out []Thread
	seen := make(map[int]struct{})
	collect(s.root, 0, seen, &out)
	return out
}

func collect(g Group, depth int, seen map[int]struct{}, out *[]Thread) {
	if g == nil || depth > maxGroupDepth {
		return
	}
	for _, t := range g.Threads() {
		if t == nil {
			continue
		}
		id := t.ThreadID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		*out = append(*out, t)
	}
	for _, child := range g.Groups() {
		collect(child, depth+1, seen, out)
	}
}
