package goroutine

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/coral-mesh/stacksampler/pkg/hprof"
)

// Record is one goroutine from a runtime.Stack dump.
type Record struct {
	ID        int
	State     string
	Frames    []hprof.StackFrame // innermost first
	CreatedBy string             // creating function, empty for the main goroutine
	CreatorID int                // goroutine that ran CreatedBy, zero when not reported
}

type parserState int

const (
	headerState parserState = iota
	functionState
	fileState
)

// Parse reads a goroutine dump as written by runtime.Stack or
// debug.Stack. Records are returned in dump order. Truncated dumps yield the
// records read so far.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		records []Record
		cur     *Record
		pending hprof.StackFrame
		state   = headerState
	)

	flush := func() {
		if cur != nil {
			records = append(records, *cur)
			cur = nil
		}
		state = headerState
	}

	function := func(line string) {
		if line == "" {
			flush()
			return
		}
		if strings.HasPrefix(line, "...") {
			// "...additional frames elided..."
			return
		}
		if rest, ok := strings.CutPrefix(line, "created by "); ok {
			cur.CreatedBy, cur.CreatorID = parseCreatedBy(rest)
			state = headerState
			return
		}
		pending = parseFunction(line)
		state = fileState
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch state {
		case headerState:
			if line == "" {
				flush()
				continue
			}
			if rec, ok := parseHeader(line); ok {
				flush()
				cur = &rec
				state = functionState
			}
		case functionState:
			function(line)
		case fileState:
			if !strings.HasPrefix(line, "\t") {
				pending.Line = hprof.LineUnknown
				cur.Frames = append(cur.Frames, pending)
				function(line)
				continue
			}
			pending.File, pending.Line = parseFileLine(line)
			cur.Frames = append(cur.Frames, pending)
			state = functionState
		}
	}
	if state == fileState {
		pending.Line = hprof.LineUnknown
		cur.Frames = append(cur.Frames, pending)
	}
	flush()

	return records, scanner.Err()
}

// parseHeader parses "goroutine 19 [chan receive, 2 minutes]:".
func parseHeader(line string) (Record, bool) {
	rest, ok := strings.CutPrefix(line, "goroutine ")
	if !ok {
		return Record{}, false
	}
	idText, rest, _ := strings.Cut(rest, " ")
	id, err := strconv.Atoi(idText)
	if err != nil {
		return Record{}, false
	}
	rec := Record{ID: id}
	l := strings.Index(rest, "[")
	r := strings.LastIndex(rest, "]")
	if l > -1 && r > l {
		state, _, _ := strings.Cut(rest[l+1:r], ",")
		rec.State = state
	}
	return rec, true
}

// parseCreatedBy parses "main.startWorkers in goroutine 1".
func parseCreatedBy(s string) (string, int) {
	fn, parent, found := strings.Cut(s, " in goroutine ")
	if !found {
		return strings.TrimSpace(s), 0
	}
	id, err := strconv.Atoi(strings.TrimSpace(parent))
	if err != nil {
		return fn, 0
	}
	return fn, id
}

// parseFunction parses "pkg/path.(*T).Method(0x1, 0x2)".
func parseFunction(line string) hprof.StackFrame {
	name := line
	if strings.HasSuffix(name, ")") {
		if i := strings.LastIndex(name, "("); i > 0 {
			name = name[:i]
		}
	}
	class, method := splitFunction(name)
	return hprof.StackFrame{Class: class, Method: method}
}

// splitFunction splits a qualified function name at its last dot, ignoring
// dots inside the import path.
func splitFunction(name string) (string, string) {
	slash := strings.LastIndex(name, "/")
	dot := strings.LastIndex(name[slash+1:], ".")
	if dot < 0 {
		return "", name
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}

// parseFileLine parses "\t/src/io/pipe.go:57 +0x8c".
func parseFileLine(line string) (string, int) {
	loc := strings.TrimSpace(line)
	if i := strings.Index(loc, " +0x"); i >= 0 {
		loc = loc[:i]
	}
	if i := strings.Index(loc, " fp="); i >= 0 {
		loc = loc[:i]
	}
	colon := strings.LastIndex(loc, ":")
	if colon < 0 {
		return loc, hprof.LineUnknown
	}
	n, err := strconv.Atoi(loc[colon+1:])
	if err != nil {
		return loc, hprof.LineUnknown
	}
	return loc[:colon], n
}
