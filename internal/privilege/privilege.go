// Package privilege checks whether the current process may read kernel
// stacks of other processes and hands written profiles back to the user who
// invoked sudo.
package privilege

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/coral-mesh/stacksampler/internal/sys/proc"
)

// CapSysAdmin is the CAP_SYS_ADMIN bit (include/uapi/linux/capability.h).
const CapSysAdmin = 21

// ErrInsufficient is returned when kernel stacks are not readable.
var ErrInsufficient = errors.New("reading kernel stacks requires root or CAP_SYS_ADMIN")

// Owner is the uid and gid a file is handed back to.
type Owner struct {
	UID int
	GID int
}

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasCapability reports whether bit is set in an effective capability mask.
func HasCapability(capEff uint64, bit int) bool {
	return capEff&(1<<uint(bit)) != 0
}

// CheckKernelStacks returns nil when the process is root or holds
// CAP_SYS_ADMIN.
func CheckKernelStacks(p *proc.FS) error {
	if IsRoot() {
		return nil
	}
	st, err := p.ReadSelfStatus()
	if err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	if !HasCapability(st.CapEff, CapSysAdmin) {
		return ErrInsufficient
	}
	return nil
}

// SudoOwner returns the invoking user when running under sudo, read from
// SUDO_UID and SUDO_GID.
func SudoOwner(lookup func(string) (string, bool)) (Owner, bool, error) {
	uidStr, ok := lookup("SUDO_UID")
	if !ok || uidStr == "" {
		return Owner{}, false, nil
	}
	gidStr, ok := lookup("SUDO_GID")
	if !ok || gidStr == "" {
		return Owner{}, false, fmt.Errorf("SUDO_UID set but SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return Owner{}, false, fmt.Errorf("invalid SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return Owner{}, false, fmt.Errorf("invalid SUDO_GID: %w", err)
	}
	return Owner{UID: uid, GID: gid}, true, nil
}

// FixFileOwnership changes the ownership of path to the user who invoked
// sudo. It is a no-op unless running as root under sudo.
func FixFileOwnership(path string) error {
	if !IsRoot() {
		return nil
	}
	owner, ok, err := SudoOwner(os.LookupEnv)
	if err != nil || !ok {
		return err
	}
	if err := os.Chown(path, owner.UID, owner.GID); err != nil {
		return fmt.Errorf("failed to chown %s to %d:%d: %w", path, owner.UID, owner.GID, err)
	}
	return nil
}
