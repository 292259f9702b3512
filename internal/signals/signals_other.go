//go:build !unix

package signals

import "os"

// ShutdownSignals returns os.Interrupt, the only portable stop signal.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
