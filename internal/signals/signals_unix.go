//go:build unix

package signals

import (
	"os"
	"syscall"
)

// ShutdownSignals returns Interrupt and SIGTERM, which process managers and
// MCP hosts send on stop.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
