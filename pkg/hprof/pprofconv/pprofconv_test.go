package pprofconv

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

func testData() *hprof.Data {
	data := hprof.NewData(4, hprof.FlagCPUSampling)
	data.SetStartMillis(1700000000000)
	data.AddThreadEvent(hprof.StartEvent(1, 7, "main", "system", ""))
	data.AddStackTrace(hprof.NewStackTrace(1, 7, []hprof.StackFrame{
		{Class: "main", Method: "leaf", File: "main.go", Line: 30},
		{Class: "main", Method: "root", File: "main.go", Line: 10},
	}), 3)
	data.AddStackTrace(hprof.NewStackTrace(2, 9, []hprof.StackFrame{
		{Class: "kernel", Method: "do_wait", Line: hprof.LineNative},
		{Class: "main", Method: "root", File: "main.go", Line: 10},
	}), 2)
	return data
}

func TestConvert(t *testing.T) {
	prof := Convert(testData(), Options{Period: 10 * time.Millisecond})
	require.NoError(t, prof.CheckValid())

	require.Len(t, prof.SampleType, 2)
	assert.Equal(t, "samples", prof.SampleType[0].Type)
	assert.Equal(t, int64(10*time.Millisecond), prof.Period)
	assert.Equal(t, int64(1700000000000)*int64(time.Millisecond), prof.TimeNanos)

	require.Len(t, prof.Sample, 2)
	first := prof.Sample[0]
	assert.Equal(t, []int64{3, 3 * int64(10*time.Millisecond)}, first.Value)
	assert.Equal(t, []int64{7}, first.NumLabel["thread_id"])
	assert.Equal(t, []string{"main"}, first.Label["thread_name"])
	assert.Equal(t, "main.leaf", first.Location[0].Line[0].Function.Name)

	second := prof.Sample[1]
	assert.Nil(t, second.Label)
	assert.Equal(t, int64(0), second.Location[0].Line[0].Line)

	// main.root is shared by both samples.
	assert.Len(t, prof.Location, 3)
	assert.Len(t, prof.Function, 3)
	assert.Same(t, first.Location[1], second.Location[1])
}

func TestConvertWithoutPeriod(t *testing.T) {
	prof := Convert(testData(), Options{})
	require.NoError(t, prof.CheckValid())
	assert.Len(t, prof.SampleType, 1)
	assert.Nil(t, prof.PeriodType)
	assert.Equal(t, []int64{3}, prof.Sample[0].Value)
}

func TestConvertEncodes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Convert(testData(), Options{}).Write(&buf))

	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 2)
}
