//go:build !linux

package terminal

// applyMemoryLimit is a no-op on platforms without cross-process rlimits.
func applyMemoryLimit(pid, maxMemoryMB int) {}
