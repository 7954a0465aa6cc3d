package hprof

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteASCII(t *testing.T) {
	data := NewData(4, FlagCPUSampling)
	data.SetStartMillis(0)
	data.AddThreadEvent(StartEvent(1, 7, "main", "system", ""))
	data.AddStackTrace(NewStackTrace(1, 7, testFrames()), 1)
	data.AddStackTrace(NewStackTrace(2, 7, testFrames()[1:]), 3)
	data.AddThreadEvent(EndEvent(7))

	var buf bytes.Buffer
	require.NoError(t, WriteASCII(&buf, data))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"JAVA PROFILE 1.0.2, created Thu Jan  1 00:00:00 1970",
		"",
		`THREAD START (obj=1, id = 7, name="main", group="system")`,
		"THREAD END (id = 7)",
		"TRACE 2: (thread=7)",
		"\tmain.middle(main.go:20)",
		"\tmain.root(main.go:10)",
		"TRACE 1: (thread=7)",
		"\tmain.leaf(main.go:30)",
		"\tmain.middle(main.go:20)",
		"\tmain.root(main.go:10)",
		"CPU SAMPLES BEGIN (total = 4) Thu Jan  1 00:00:00 1970",
		"rank   self  accum   count trace method",
		"   1 75.00% 75.00%       3     2 main.middle",
		"   2 25.00% 100.00%       1     1 main.leaf",
		"CPU SAMPLES END",
	}
	assert.Equal(t, want, lines)
}

func TestWriteASCIIEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteASCII(&buf, NewData(1, 0)))

	out := buf.String()
	assert.Contains(t, out, "CPU SAMPLES BEGIN (total = 0)")
	assert.True(t, strings.HasSuffix(out, "CPU SAMPLES END\n"))
	assert.NotContains(t, out, "TRACE")
}

func TestWriteASCIIEmptyTrace(t *testing.T) {
	data := NewData(1, 0)
	data.AddStackTrace(NewStackTrace(9, 1, nil), 2)

	var buf bytes.Buffer
	require.NoError(t, WriteASCII(&buf, data))
	assert.Contains(t, buf.String(), "      2     9 (empty)\n")
}
