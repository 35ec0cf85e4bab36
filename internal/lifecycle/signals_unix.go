//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals stop the session. SIGHUP is included so closing the
// controlling terminal leaves the receiver cleanly.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
