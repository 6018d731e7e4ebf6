//go:build !windows

package uci

import (
	"os/exec"
	"syscall"
)

// isolateFromSignals puts the child in its own process group so that
// SIGINT/SIGTERM delivered to the client process (e.g. via a terminal's
// Ctrl-C) do not also reach the engine, per spec §4.2 and §5. The client
// requests a clean "stop"/"quit" instead.
func isolateFromSignals(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SetPriority lowers scheduling priority (nice level) on Unix, used when
// --cpu-priority requests it (spec §4.2, §6.2).
func SetPriority(pid, nice int) error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, pid, nice)
}
