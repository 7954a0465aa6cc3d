// Package proctask samples the kernel stacks of the tasks of another Linux
// process through /proc.
package proctask

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacksampler/internal/sys/proc"
	"github.com/coral-mesh/stacksampler/pkg/hprof"
	"github.com/coral-mesh/stacksampler/pkg/sampler"
)

// KernelClass is the class reported for kernel stack frames.
const KernelClass = "kernel"

// Task is a handle to one thread of a process.
type Task struct {
	pid   int
	tid   int
	name  string
	group string
	ppid  string
}

// ThreadID returns the task id.
func (t *Task) ThreadID() int { return t.tid }

// Pid returns the id of the owning process.
func (t *Task) Pid() int { return t.pid }

// Describe reports the task's comm and its process as group.
func (t *Task) Describe() sampler.ThreadInfo {
	return sampler.ThreadInfo{
		ObjectID:    t.tid,
		Name:        t.name,
		Group:       t.group,
		ParentGroup: t.ppid,
	}
}

// Source is a thread group over the tasks of one process and, optionally,
// of its descendants. It also captures their kernel stacks.
type Source struct {
	fs       *proc.FS
	pid      int
	children bool
	logger   zerolog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithChildren makes the source include child processes as sub-groups.
func WithChildren() Option {
	return func(s *Source) { s.children = true }
}

// WithLogger sets the source logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) {
		s.logger = logger.With().Str("component", "proctask_source").Int("pid", s.pid).Logger()
	}
}

// New returns a Source for pid. It fails if the process does not exist.
func New(fs *proc.FS, pid int, opts ...Option) (*Source, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if _, err := fs.ListTasks(pid); err != nil {
		return nil, fmt.Errorf("failed to list tasks of pid %d: %w", pid, err)
	}
	s := &Source{fs: fs, pid: pid, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pid returns the process id.
func (s *Source) Pid() int { return s.pid }

// Name returns the process's command name, or its pid when unreadable.
func (s *Source) Name() string {
	name, err := s.fs.ReadComm(s.pid, s.pid)
	if err != nil {
		return strconv.Itoa(s.pid)
	}
	return name
}

// Threads lists the live tasks of the process. Tasks that exit while being
// listed are left out.
func (s *Source) Threads() []sampler.Thread {
	tids, err := s.fs.ListTasks(s.pid)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to list tasks")
		return nil
	}

	group := s.Name()
	parent := ""
	if st, err := s.fs.ReadStatus(s.pid, s.pid); err == nil && st.PPid > 0 {
		parent = strconv.Itoa(st.PPid)
	}

	threads := make([]sampler.Thread, 0, len(tids))
	for _, tid := range tids {
		name, err := s.fs.ReadComm(s.pid, tid)
		if err != nil {
			continue
		}
		threads = append(threads, &Task{pid: s.pid, tid: tid, name: name, group: group, ppid: parent})
	}
	return threads
}

// Groups returns the direct child processes when children are enabled.
func (s *Source) Groups() []sampler.Group {
	if !s.children {
		return nil
	}
	pids, err := s.fs.ListPids()
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to list processes")
		return nil
	}

	var groups []sampler.Group
	for _, pid := range pids {
		if pid == s.pid {
			continue
		}
		st, err := s.fs.ReadStatus(pid, pid)
		if err != nil || st.PPid != s.pid {
			continue
		}
		groups = append(groups, &Source{fs: s.fs, pid: pid, children: true, logger: s.logger})
	}
	return groups
}

// ThreadSet returns a live ThreadSet over the source's tasks.
func (s *Source) ThreadSet() sampler.ThreadSet {
	return sampler.NewGroupThreadSet(s)
}

// Capture reads the kernel stack of t. Tasks running in user space have an
// empty kernel stack.
func (s *Source) Capture(t sampler.Thread) ([]hprof.StackFrame, error) {
	pid := s.pid
	if task, ok := t.(*Task); ok {
		pid = task.pid
	}

	stack, err := s.fs.ReadKernelStack(pid, t.ThreadID())
	if err != nil {
		if errors.Is(err, proc.ErrNoSuchTask) {
			return nil, fmt.Errorf("%w: %v", sampler.ErrNotCapturable, err)
		}
		return nil, fmt.Errorf("%w: read kernel stack: %v", sampler.ErrNotCapturable, err)
	}

	frames := make([]hprof.StackFrame, len(stack))
	for i, kf := range stack {
		frames[i] = hprof.StackFrame{Class: KernelClass, Method: kf.Symbol, Line: hprof.LineNative}
	}
	return frames, nil
}
