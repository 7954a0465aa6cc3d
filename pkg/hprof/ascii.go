package hprof

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"
)

const asciiHeader = "JAVA PROFILE 1.0.2"

// WriteASCII writes data in the human-readable hprof format: thread events,
// one TRACE block per sample and a ranked CPU SAMPLES table.
func WriteASCII(w io.Writer, data *Data) error {
	bw := bufio.NewWriter(w)
	created := data.StartTime().UTC().Format(time.ANSIC)

	fmt.Fprintf(bw, "%s, created %s\n\n", asciiHeader, created)

	for _, ev := range data.ThreadHistory() {
		fmt.Fprintln(bw, ev.String())
	}

	samples := rankSamples(data.Samples())
	total := 0
	for _, s := range samples {
		total += s.Count
	}

	for _, s := range samples {
		fmt.Fprintf(bw, "TRACE %d: (thread=%d)\n", s.Trace.ID(), s.Trace.ThreadID())
		for i := 0; i < s.Trace.Len(); i++ {
			fmt.Fprintf(bw, "\t%s\n", s.Trace.Frame(i))
		}
	}

	fmt.Fprintf(bw, "CPU SAMPLES BEGIN (total = %d) %s\n", total, created)
	fmt.Fprintln(bw, "rank   self  accum   count trace method")
	accum := 0.0
	for i, s := range samples {
		self := 0.0
		if total > 0 {
			self = 100 * float64(s.Count) / float64(total)
		}
		accum += self
		fmt.Fprintf(bw, "%4d %5.2f%% %5.2f%% %7d %5d %s\n",
			i+1, self, accum, s.Count, s.Trace.ID(), topMethod(s.Trace))
	}
	fmt.Fprintln(bw, "CPU SAMPLES END")

	return bw.Flush()
}

// rankSamples orders samples by descending count, ties broken by trace id.
func rankSamples(samples []Sample) []Sample {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].Count != samples[j].Count {
			return samples[i].Count > samples[j].Count
		}
		return samples[i].Trace.ID() < samples[j].Trace.ID()
	})
	return samples
}

func topMethod(t *StackTrace) string {
	if t.Len() == 0 {
		return "(empty)"
	}
	f := t.Frame(0)
	if f.Class == "" {
		return f.Method
	}
	return f.Class + "." + f.Method
}
