// Package signals names the OS signals that stop the server.
package signals

import (
	"context"
	"os/signal"
)

// NotifyContext returns a context canceled on the first shutdown signal.
// A second signal is left to the runtime default, which kills the process.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, ShutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
