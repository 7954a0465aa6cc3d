package sampler

import (
	"sort"
	"sync"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

type lifecycleSet struct {
	inner ThreadSet
	sink  EventSink

	mu   sync.Mutex
	live map[int]struct{}
}

// TrackLifecycle wraps set so that every enumeration is diffed against the
// previous one. Threads seen for the first time produce a START event and
// threads no longer present produce an END event, both delivered to sink.
// A thread's START always precedes its END.
func TrackLifecycle(set ThreadSet, sink EventSink) ThreadSet {
	return &lifecycleSet{
		inner: set,
		sink:  sink,
		live:  make(map[int]struct{}),
	}
}

func (s *lifecycleSet) Threads() []Thread {
	threads := s.inner.Threads()

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[int]struct{}, len(threads))
	for _, t := range threads {
		if t == nil {
			continue
		}
		id := t.ThreadID()
		if _, dup := current[id]; dup {
			continue
		}
		current[id] = struct{}{}
		if _, known := s.live[id]; !known {
			s.sink.AddThreadEvent(startEvent(t))
		}
	}

	var ended []int
	for id := range s.live {
		if _, ok := current[id]; !ok {
			ended = append(ended, id)
		}
	}
	sort.Ints(ended)
	for _, id := range ended {
		s.sink.AddThreadEvent(hprof.EndEvent(id))
	}

	s.live = current
	return threads
}

func startEvent(t Thread) hprof.ThreadEvent {
	id := t.ThreadID()
	info := ThreadInfo{ObjectID: id}
	if d, ok := t.(Describer); ok {
		info = d.Describe()
	}
	return hprof.StartEvent(info.ObjectID, id, info.Name, info.Group, info.ParentGroup)
}
