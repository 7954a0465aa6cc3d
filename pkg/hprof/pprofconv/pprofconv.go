// Package pprofconv converts sampling profiler snapshots to pprof profiles so
// they can be inspected with `go tool pprof` or uploaded to pprof-aware backends.
package pprofconv

import (
	"time"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// Options tunes the conversion.
type Options struct {
	// Period is the sampling interval. When set, a second "wall" value in
	// nanoseconds (count * period) is emitted for every sample.
	Period time.Duration
}

type functionKey struct {
	name string
	file string
}

// Convert builds a pprof profile from data. Each sample carries a thread_id
// numeric label and, when the thread history knows it, a thread_name label.
func Convert(data *hprof.Data, opts Options) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		TimeNanos:  data.StartTime().UnixNano(),
	}
	if opts.Period > 0 {
		prof.SampleType = append(prof.SampleType, &profile.ValueType{Type: "wall", Unit: "nanoseconds"})
		prof.PeriodType = &profile.ValueType{Type: "wall", Unit: "nanoseconds"}
		prof.Period = opts.Period.Nanoseconds()
	}

	names := threadNames(data.ThreadHistory())
	functions := make(map[functionKey]*profile.Function)
	locations := make(map[hprof.StackFrame]*profile.Location)

	for _, s := range data.Samples() {
		locs := make([]*profile.Location, 0, s.Trace.Len())
		for i := 0; i < s.Trace.Len(); i++ {
			f := s.Trace.Frame(i)
			loc, ok := locations[f]
			if !ok {
				fn := function(prof, functions, f)
				loc = &profile.Location{
					ID:   uint64(len(prof.Location) + 1),
					Line: []profile.Line{{Function: fn, Line: lineNumber(f.Line)}},
				}
				prof.Location = append(prof.Location, loc)
				locations[f] = loc
			}
			locs = append(locs, loc)
		}

		sample := &profile.Sample{
			Location: locs,
			Value:    []int64{int64(s.Count)},
			NumLabel: map[string][]int64{"thread_id": {int64(s.Trace.ThreadID())}},
		}
		if opts.Period > 0 {
			sample.Value = append(sample.Value, int64(s.Count)*opts.Period.Nanoseconds())
		}
		if name, ok := names[s.Trace.ThreadID()]; ok && name != "" {
			sample.Label = map[string][]string{"thread_name": {name}}
		}
		prof.Sample = append(prof.Sample, sample)
	}

	return prof
}

func function(prof *profile.Profile, functions map[functionKey]*profile.Function, f hprof.StackFrame) *profile.Function {
	name := f.Method
	if f.Class != "" {
		name = f.Class + "." + f.Method
	}
	key := functionKey{name: name, file: f.File}
	if fn, ok := functions[key]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(prof.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   f.File,
	}
	prof.Function = append(prof.Function, fn)
	functions[key] = fn
	return fn
}

func lineNumber(line int) int64 {
	if line < 0 {
		return 0
	}
	return int64(line)
}

// threadNames maps thread ids to the most recent name seen in START events.
func threadNames(history []hprof.ThreadEvent) map[int]string {
	names := make(map[int]string)
	for _, ev := range history {
		if ev.Type == hprof.ThreadStart {
			names[ev.ThreadID] = ev.ThreadName
		}
	}
	return names
}
