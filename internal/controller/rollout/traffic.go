package rollout

import (
	"context"

	"github.com/stagegate/stagegate/internal/logging"
)

// TrafficRouter applies canary traffic weights. Routing is authoritative
// elsewhere (a mesh, an ingress controller); implementations of this
// interface are thin adapters that relay the desired weight and confirm it
// was accepted.
type TrafficRouter interface {
	// SetWeight routes the given percentage of traffic, 0-100, to the
	// canary for the named rollout. It returns only once the weight has
	// been accepted by the routing authority.
	SetWeight(ctx context.Context, rollout string, weight int32) error
}

// logRouter is a TrafficRouter that records requested weights and applies
// nothing. It backs dry runs and deployments where weight propagation is
// handled entirely by external tooling watching rollout status.
type logRouter struct{}

// NewLogRouter returns a TrafficRouter that only logs requested weights.
func NewLogRouter() TrafficRouter {
	return &logRouter{}
}

func (l *logRouter) SetWeight(
	ctx context.Context,
	rollout string,
	weight int32,
) error {
	logging.LoggerFromContext(ctx).Info(
		"traffic weight set",
		"rollout", rollout,
		"weight", weight,
	)
	return nil
}
