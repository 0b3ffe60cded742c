//go:build !windows

package transport

import (
	"os/exec"
	"syscall"
)

// terminateSignal is the polite shutdown request sent by Terminate.
var terminateSignal = syscall.SIGTERM

// exitSignal names the signal that ended the process, if any.
func exitSignal(err *exec.ExitError) string {
	ws, ok := err.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}
