//go:build windows

package transport

import (
	"os"
	"os/exec"
)

// Windows has no SIGTERM delivery for unrelated processes; Kill is the
// only termination primitive, so Terminate degrades to it.
var terminateSignal = os.Kill

func exitSignal(_ *exec.ExitError) string {
	return ""
}
