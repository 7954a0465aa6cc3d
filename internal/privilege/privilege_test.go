package privilege

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacksampler/internal/sys/proc"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestIsRoot(t *testing.T) {
	assert.Equal(t, os.Geteuid() == 0, IsRoot())
}

func TestHasCapability(t *testing.T) {
	assert.False(t, HasCapability(0xa80425fb, CapSysAdmin))
	assert.True(t, HasCapability(0x1ffffffffff, CapSysAdmin))
	assert.True(t, HasCapability(1<<CapSysAdmin, CapSysAdmin))
}

func TestCheckKernelStacks(t *testing.T) {
	if IsRoot() {
		t.Skip("always allowed as root")
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proc/self/status", []byte("Name:\tx\nCapEff:\t00000000a80425fb\n"), 0o644))
	assert.ErrorIs(t, CheckKernelStacks(proc.New(fs, "/proc")), ErrInsufficient)

	require.NoError(t, afero.WriteFile(fs, "/proc/self/status", []byte("Name:\tx\nCapEff:\t000001ffffffffff\n"), 0o644))
	assert.NoError(t, CheckKernelStacks(proc.New(fs, "/proc")))

	empty := proc.New(afero.NewMemMapFs(), "/proc")
	assert.Error(t, CheckKernelStacks(empty))
}

func TestSudoOwner(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    Owner
		wantOK  bool
		wantErr bool
	}{
		{name: "not under sudo", vars: map[string]string{}},
		{name: "under sudo", vars: map[string]string{"SUDO_UID": "1000", "SUDO_GID": "100"}, want: Owner{UID: 1000, GID: 100}, wantOK: true},
		{name: "missing gid", vars: map[string]string{"SUDO_UID": "1000"}, wantErr: true},
		{name: "bad uid", vars: map[string]string{"SUDO_UID": "alice", "SUDO_GID": "100"}, wantErr: true},
		{name: "bad gid", vars: map[string]string{"SUDO_UID": "1000", "SUDO_GID": "staff"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, ok, err := SudoOwner(env(tt.vars))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, owner)
		})
	}
}

func TestFixFileOwnershipNonRoot(t *testing.T) {
	if IsRoot() {
		t.Skip("requires a non-root user")
	}
	path := filepath.Join(t.TempDir(), "profile.hprof")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.NoError(t, FixFileOwnership(path))
}
