//go:build windows

package uci

import (
	"os/exec"
	"syscall"
)

// isolateFromSignals opts the child out of Ctrl-C delivery by giving it
// its own process group, mirroring the Unix process-group isolation
// (spec §4.2).
func isolateFromSignals(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200} // CREATE_NEW_PROCESS_GROUP
}

// SetPriority is a no-op on Windows; the platform has no direct nice-level
// equivalent wired here (spec treats cpu-priority as best-effort).
func SetPriority(pid, nice int) error {
	return nil
}
