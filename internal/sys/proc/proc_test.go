package proc

import (
	"path"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(path.Dir(name), 0o755))
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
}

func fakeProc(t *testing.T) *FS {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/proc/version", "Linux version 6.1.0-18-amd64 (debian-kernel@lists.debian.org) gcc-12\n")
	writeFile(t, fs, "/proc/self/status", "Name:\tstacksampler\nTgid:\t7\nCapEff:\t00000000a80425fb\n")
	require.NoError(t, fs.MkdirAll("/proc/1/task/1", 0o755))

	writeFile(t, fs, "/proc/42/task/42/comm", "server\n")
	writeFile(t, fs, "/proc/42/task/42/status", "Name:\tserver\nState:\tS (sleeping)\nTgid:\t42\nPPid:\t1\n")
	writeFile(t, fs, "/proc/42/task/42/stack", "[<0>] do_epoll_wait+0x4b0/0x5c0\n[<0>] __x64_sys_epoll_wait+0x60/0x100\n")

	writeFile(t, fs, "/proc/42/task/43/comm", "worker-1\n")
	writeFile(t, fs, "/proc/42/task/43/stack", "[<ffffffff8110a0b4>] futex_wait_queue+0x60/0x90\n\n")
	writeFile(t, fs, "/proc/42/task/notatask/comm", "x\n")
	return New(fs, "")
}

func TestListPids(t *testing.T) {
	p := fakeProc(t)
	pids, err := p.ListPids()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 42}, pids)
}

func TestListTasks(t *testing.T) {
	p := fakeProc(t)

	tids, err := p.ListTasks(42)
	require.NoError(t, err)
	assert.Equal(t, []int{42, 43}, tids)

	_, err = p.ListTasks(7)
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestReadComm(t *testing.T) {
	p := fakeProc(t)

	name, err := p.ReadComm(42, 43)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", name)

	_, err = p.ReadComm(42, 99)
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestReadStatus(t *testing.T) {
	p := fakeProc(t)

	st, err := p.ReadStatus(42, 42)
	require.NoError(t, err)
	assert.Equal(t, Status{Name: "server", State: "S (sleeping)", Tgid: 42, PPid: 1}, st)
}

func TestReadSelfStatus(t *testing.T) {
	p := fakeProc(t)

	st, err := p.ReadSelfStatus()
	require.NoError(t, err)
	assert.Equal(t, "stacksampler", st.Name)
	assert.Equal(t, uint64(0xa80425fb), st.CapEff)
}

func TestParseStatusRejectsBadCapabilities(t *testing.T) {
	_, err := parseStatus([]byte("Name:\tx\nCapEff:\tzz\n"))
	assert.Error(t, err)
}

func TestReadKernelStack(t *testing.T) {
	p := fakeProc(t)

	frames, err := p.ReadKernelStack(42, 42)
	require.NoError(t, err)
	assert.Equal(t, []KernelFrame{
		{Symbol: "do_epoll_wait", Offset: 0x4b0, Size: 0x5c0},
		{Symbol: "__x64_sys_epoll_wait", Offset: 0x60, Size: 0x100},
	}, frames)

	frames, err = p.ReadKernelStack(42, 43)
	require.NoError(t, err)
	assert.Equal(t, []KernelFrame{{Symbol: "futex_wait_queue", Offset: 0x60, Size: 0x90}}, frames)

	_, err = p.ReadKernelStack(42, 44)
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestParseKernelFrame(t *testing.T) {
	tests := []struct {
		line string
		want KernelFrame
		ok   bool
	}{
		{"[<0>] schedule+0x3a/0xa0", KernelFrame{Symbol: "schedule", Offset: 0x3a, Size: 0xa0}, true},
		{"[<0>] entry_SYSCALL_64_after_hwframe", KernelFrame{Symbol: "entry_SYSCALL_64_after_hwframe"}, true},
		{"[<0>]", KernelFrame{}, false},
		{"", KernelFrame{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseKernelFrame(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKernelVersion(t *testing.T) {
	assert.Equal(t, "6.1.0-18-amd64", fakeProc(t).KernelVersion())
	assert.Equal(t, "unknown", New(afero.NewMemMapFs(), "").KernelVersion())
}

func TestFindPidByPort_NoSockets(t *testing.T) {
	pid, err := fakeProc(t).FindPidByPort(8080)
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestFindSocketInode(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/proc/net/tcp",
		"  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"+
			"   0: 00000000:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 123456 1\n"+
			"   1: 0100007F:1F91 0100007F:A1B2 01 00000000:00000000 00:00000000 00000000  1000        0 654321 1\n")
	p := New(fs, "")

	inode, err := p.findSocketInode(8080, "/proc/net/tcp")
	require.NoError(t, err)
	assert.Equal(t, "123456", inode)

	inode, err = p.findSocketInode(8081, "/proc/net/tcp")
	require.NoError(t, err)
	assert.Empty(t, inode, "established sockets are ignored")
}
