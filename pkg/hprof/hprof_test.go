package hprof

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames() []StackFrame {
	return []StackFrame{
		{Class: "main", Method: "leaf", File: "main.go", Line: 30},
		{Class: "main", Method: "middle", File: "main.go", Line: 20},
		{Class: "main", Method: "root", File: "main.go", Line: 10},
	}
}

func TestStackFrameString(t *testing.T) {
	tests := []struct {
		name  string
		frame StackFrame
		want  string
	}{
		{"with line", StackFrame{Class: "io.(*pipe)", Method: "Read", File: "pipe.go", Line: 57}, "io.(*pipe).Read(pipe.go:57)"},
		{"unknown source", StackFrame{Class: "main", Method: "main", Line: LineUnknown}, "main.main(Unknown Source)"},
		{"native", StackFrame{Class: "kernel", Method: "do_wait", Line: LineNative}, "kernel.do_wait(Native Method)"},
		{"file without line", StackFrame{Class: "A", Method: "b", File: "A.java", Line: LineCompiled}, "A.b(A.java)"},
		{"no class", StackFrame{Method: "schedule", File: "core.c", Line: 4}, "schedule(core.c:4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.frame.String())
		})
	}
}

func TestStackTraceIsImmutable(t *testing.T) {
	frames := testFrames()
	trace := NewStackTrace(1, 7, frames)

	frames[0].Method = "changed"
	assert.Equal(t, "leaf", trace.Frame(0).Method)

	out := trace.Frames()
	out[1].Method = "changed"
	assert.Equal(t, "middle", trace.Frame(1).Method)
	assert.Equal(t, 3, trace.Len())
	assert.Equal(t, 7, trace.ThreadID())
}

func TestStackTraceSameBucket(t *testing.T) {
	a := NewStackTrace(1, 7, testFrames())
	b := NewStackTrace(2, 7, testFrames())
	otherThread := NewStackTrace(3, 8, testFrames())
	shorter := NewStackTrace(4, 7, testFrames()[:2])

	assert.True(t, a.SameBucket(b), "trace ids are not part of identity")
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.SameBucket(otherThread))
	assert.False(t, a.SameBucket(shorter))
	assert.False(t, a.SameBucket(nil))
}

func TestDataAddStackTraceMergesBuckets(t *testing.T) {
	data := NewData(4, FlagCPUSampling)
	data.AddStackTrace(NewStackTrace(1, 7, testFrames()), 3)
	data.AddStackTrace(NewStackTrace(2, 8, testFrames()), 1)
	data.AddStackTrace(NewStackTrace(5, 7, testFrames()), 2)

	samples := data.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, 1, samples[0].Trace.ID())
	assert.Equal(t, 5, samples[0].Count)
	assert.Equal(t, 2, samples[1].Trace.ID())
	assert.Equal(t, 6, data.TotalSamples())
}

func TestDataSamplesIsACopy(t *testing.T) {
	data := NewData(4, FlagCPUSampling)
	data.AddStackTrace(NewStackTrace(1, 7, testFrames()), 3)

	first := data.Samples()
	data.AddStackTrace(NewStackTrace(2, 7, testFrames()), 10)

	assert.Equal(t, 3, first[0].Count)
	assert.Equal(t, 13, data.Samples()[0].Count)
}

func TestDataSettings(t *testing.T) {
	data := NewData(4, FlagCPUSampling)
	data.SetStartMillis(1700000000123)
	assert.Equal(t, int64(1700000000123), data.StartMillis())
	assert.Equal(t, int64(1700000000123), data.StartTime().UnixMilli())

	data.SetFlags(FlagCPUSampling | FlagAllocTraces)
	assert.Equal(t, Flags(0x3), data.Flags())

	require.NoError(t, data.SetDepth(12))
	assert.Equal(t, 12, data.Depth())
	assert.ErrorIs(t, data.SetDepth(0), ErrInvalidDepth)
	assert.Equal(t, 12, data.Depth())
}

func TestDataThreadHistoryConcurrentAppend(t *testing.T) {
	data := NewData(4, FlagCPUSampling)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			data.AddThreadEvent(StartEvent(id, id, "worker", "main", "system"))
			_ = data.ThreadHistory()
			data.AddThreadEvent(EndEvent(id))
		}(i + 1)
	}
	wg.Wait()

	history := data.ThreadHistory()
	require.Len(t, history, 16)

	started := make(map[int]bool)
	for _, ev := range history {
		switch ev.Type {
		case ThreadStart:
			started[ev.ThreadID] = true
		case ThreadEnd:
			assert.True(t, started[ev.ThreadID], "END before START for thread %d", ev.ThreadID)
		}
	}
}

func TestThreadEventString(t *testing.T) {
	assert.Equal(t, `THREAD START (obj=5, id = 2, name="main", group="system")`,
		StartEvent(5, 2, "main", "system", "").String())
	assert.Equal(t, "THREAD END (id = 2)", EndEvent(2).String())
	assert.Equal(t, "START", ThreadStart.String())
	assert.Equal(t, "END", ThreadEnd.String())
}
