package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownSignals are the signals that stop a running server.
var ShutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. stop
// releases the signal registration.
func SignalContext(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals...)
}
