// Package proc reads process and task information from the Linux /proc
// filesystem. All access goes through an afero.Fs so callers can substitute
// an in-memory tree.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultRoot is the mount point of procfs.
const DefaultRoot = "/proc"

// ErrNoSuchTask is returned when a task directory does not exist, usually
// because the task exited.
var ErrNoSuchTask = errors.New("proc: no such task")

// FS reads a procfs tree.
type FS struct {
	fs   afero.Fs
	root string
}

// New returns an FS reading root on fs.
func New(fs afero.Fs, root string) *FS {
	if root == "" {
		root = DefaultRoot
	}
	return &FS{fs: fs, root: root}
}

// NewOS returns an FS over the host's /proc.
func NewOS() *FS {
	return New(afero.NewOsFs(), DefaultRoot)
}

// Status holds the fields of /proc/<pid>/task/<tid>/status used for naming.
type Status struct {
	Name  string
	State string
	Tgid  int
	PPid  int

	// CapEff is the effective capability bitmask.
	CapEff uint64
}

// KernelFrame is one line of a task's kernel stack.
type KernelFrame struct {
	Symbol string
	Offset uint64
	Size   uint64
}

func (p *FS) path(elem ...string) string {
	return path.Join(append([]string{p.root}, elem...)...)
}

func taskPath(pid, tid int) []string {
	return []string{strconv.Itoa(pid), "task", strconv.Itoa(tid)}
}

// ListPids returns all running process ids, sorted in ascending order.
func (p *FS) ListPids() ([]int, error) {
	return p.numericDirs(p.root)
}

// ListTasks returns the thread ids of pid, sorted in ascending order.
func (p *FS) ListTasks(pid int) ([]int, error) {
	tids, err := p.numericDirs(p.path(strconv.Itoa(pid), "task"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: pid %d", ErrNoSuchTask, pid)
	}
	return tids, err
}

func (p *FS) numericDirs(dir string) ([]int, error) {
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var ids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a numeric directory.
		}
		if id > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (p *FS) readTaskFile(pid, tid int, name string) ([]byte, error) {
	data, err := afero.ReadFile(p.fs, p.path(append(taskPath(pid, tid), name)...))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d/%d", ErrNoSuchTask, pid, tid)
	}
	return data, err
}

// ReadComm returns the command name of a task.
func (p *FS) ReadComm(pid, tid int) (string, error) {
	data, err := p.readTaskFile(pid, tid, "comm")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// ReadStatus parses the status file of a task.
func (p *FS) ReadStatus(pid, tid int) (Status, error) {
	data, err := p.readTaskFile(pid, tid, "status")
	if err != nil {
		return Status{}, err
	}
	return parseStatus(data)
}

// ReadSelfStatus parses /proc/self/status.
func (p *FS) ReadSelfStatus() (Status, error) {
	data, err := afero.ReadFile(p.fs, p.path("self", "status"))
	if err != nil {
		return Status{}, err
	}
	return parseStatus(data)
}

func parseStatus(data []byte) (Status, error) {
	var st Status
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			st.Name = value
		case "State":
			st.State = value
		case "Tgid":
			st.Tgid, _ = strconv.Atoi(value)
		case "PPid":
			st.PPid, _ = strconv.Atoi(value)
		case "CapEff":
			caps, err := strconv.ParseUint(value, 16, 64)
			if err != nil {
				return Status{}, fmt.Errorf("invalid CapEff %q: %w", value, err)
			}
			st.CapEff = caps
		}
	}
	return st, scanner.Err()
}

// ReadKernelStack parses /proc/<pid>/task/<tid>/stack, innermost frame first.
// Reading another process's kernel stack requires CAP_SYS_ADMIN.
func (p *FS) ReadKernelStack(pid, tid int) ([]KernelFrame, error) {
	data, err := p.readTaskFile(pid, tid, "stack")
	if err != nil {
		return nil, err
	}

	var frames []KernelFrame
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		if f, ok := parseKernelFrame(scanner.Text()); ok {
			frames = append(frames, f)
		}
	}
	return frames, scanner.Err()
}

// parseKernelFrame parses "[<0>] do_nanosleep+0x6b/0x160".
func parseKernelFrame(line string) (KernelFrame, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return KernelFrame{}, false
	}
	sym := fields[len(fields)-1]
	if strings.HasPrefix(sym, "[<") {
		return KernelFrame{}, false
	}

	name, loc, found := strings.Cut(sym, "+")
	f := KernelFrame{Symbol: name}
	if found {
		off, size, _ := strings.Cut(loc, "/")
		f.Offset, _ = strconv.ParseUint(strings.TrimPrefix(off, "0x"), 16, 64)
		f.Size, _ = strconv.ParseUint(strings.TrimPrefix(size, "0x"), 16, 64)
	}
	return f, name != ""
}

// BinaryPath returns the path to the executable for the given pid.
func (p *FS) BinaryPath(pid int) (string, error) {
	lr, ok := p.fs.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("filesystem does not support symlinks")
	}
	return lr.ReadlinkIfPossible(p.path(strconv.Itoa(pid), "exe"))
}

// KernelVersion reads the kernel version from /proc/version.
func (p *FS) KernelVersion() string {
	data, err := afero.ReadFile(p.fs, p.path("version"))
	if err != nil {
		return "unknown"
	}

	// Parse version from output like "Linux version 5.15.0-xxx...".
	version := string(data)
	if idx := strings.Index(version, "Linux version "); idx >= 0 {
		version = version[idx+14:]
		if idx := strings.Index(version, " "); idx >= 0 {
			version = version[:idx]
		}
		return version
	}

	return "unknown"
}

// FindPidByPort finds the pid of the process listening on the given TCP
// port, or zero when none is found.
func (p *FS) FindPidByPort(port int) (int, error) {
	inode, err := p.findSocketInode(port, p.path("net", "tcp"))
	if err != nil || inode == "" {
		inode, err = p.findSocketInode(port, p.path("net", "tcp6"))
	}
	if err != nil {
		return 0, err
	}
	if inode == "" {
		return 0, nil
	}
	return p.findPidByInode(inode)
}

// findSocketInode parses /proc/net/tcp(6) for a listening socket on port.
func (p *FS) findSocketInode(port int, procPath string) (string, error) {
	f, err := p.fs.Open(procPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close() // nolint:errcheck

	scanner := bufio.NewScanner(f)
	// Skip header
	scanner.Scan()

	targetHexPort := fmt.Sprintf("%04X", port)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		_, hexPort, ok := strings.Cut(fields[1], ":")
		if !ok || hexPort != targetHexPort {
			continue
		}
		// 0A is LISTEN.
		if fields[3] != "0A" {
			continue
		}
		return fields[9], nil
	}
	return "", scanner.Err()
}

// findPidByInode scans /proc/<pid>/fd for the process owning the socket inode.
func (p *FS) findPidByInode(inode string) (int, error) {
	lr, ok := p.fs.(afero.LinkReader)
	if !ok {
		return 0, fmt.Errorf("filesystem does not support symlinks")
	}
	socketLink := "socket:[" + inode + "]"

	pids, err := p.ListPids()
	if err != nil {
		return 0, err
	}
	for _, pid := range pids {
		fdDir := p.path(strconv.Itoa(pid), "fd")
		fds, err := afero.ReadDir(p.fs, fdDir)
		if err != nil {
			continue // Permission denied or process gone.
		}
		for _, fd := range fds {
			link, err := lr.ReadlinkIfPossible(path.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if link == socketLink {
				return pid, nil
			}
		}
	}
	return 0, nil
}
