//go:build linux

package terminal

import "golang.org/x/sys/unix"

// applyMemoryLimit caps the shell's address space via prlimit, best-effort.
func applyMemoryLimit(pid, maxMemoryMB int) {
	limit := uint64(maxMemoryMB) << 20
	rl := unix.Rlimit{Cur: limit, Max: limit}
	_ = unix.Prlimit(pid, unix.RLIMIT_AS, &rl, nil)
}
