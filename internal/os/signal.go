package os

import (
	"context"
	"os/signal"
	"syscall"
)

// ShutdownContext returns a context that is canceled on SIGINT or SIGTERM.
// In-flight rollouts observe the cancellation as an abort signal.
func ShutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
