package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// WriteFolded writes one "root;...;leaf count" line per sample, the input
// format of flamegraph.pl. Samples of different threads with equal frames are
// merged. Empty stacks are skipped.
func WriteFolded(w io.Writer, data *hprof.Data) error {
	counts := make(map[string]int)
	var order []string

	for _, s := range data.Samples() {
		if s.Trace.Len() == 0 {
			continue
		}
		// Stack frames are innermost first; folded stacks start at the root.
		names := make([]string, s.Trace.Len())
		for i := 0; i < s.Trace.Len(); i++ {
			names[len(names)-1-i] = frameName(s.Trace.Frame(i))
		}
		key := strings.Join(names, ";")
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key] += s.Count
	}

	bw := bufio.NewWriter(w)
	for _, key := range order {
		fmt.Fprintf(bw, "%s %d\n", key, counts[key])
	}
	return bw.Flush()
}

func frameName(f hprof.StackFrame) string {
	name := f.Method
	if f.Class != "" {
		name = f.Class + "." + f.Method
	}
	// ';' separates frames in the folded format.
	return strings.ReplaceAll(name, ";", ":")
}
