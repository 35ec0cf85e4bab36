//go:build windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals stop the session. Console close and logoff events
// arrive as SIGTERM.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
