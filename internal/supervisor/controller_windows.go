//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

// setProcAttr is a no-op on Windows; there is no process-group equivalent
// the supervisor relies on.
func setProcAttr(cmd *exec.Cmd) {}

// terminateProcess has no graceful signal on Windows; Kill is the only
// portable termination, so graceful and forceful stops are the same.
func terminateProcess(pid int) error {
	return killProcess(pid)
}

// killProcess forcefully terminates the process.
func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

// exitSignal always returns "" on Windows; processes are not
// signal-terminated.
func exitSignal(state *os.ProcessState) string {
	return ""
}
