package builtin

import (
	"github.com/stagegate/stagegate/internal/analysis/provider"
)

// Config holds configuration shared by the built-in providers.
type Config struct {
	// QueryBackendQPS bounds the rate of queries issued to any metrics
	// backend by the query provider.
	QueryBackendQPS int
}

// NewRegistry returns a Registry populated with all built-in providers.
func NewRegistry(cfg Config) provider.Registry {
	if cfg.QueryBackendQPS <= 0 {
		cfg.QueryBackendQPS = 10
	}
	registry := provider.NewRegistry()
	for _, p := range []provider.Provider{
		newQueryProvider(cfg.QueryBackendQPS),
		newProbeProvider(),
		newExecProvider(),
	} {
		registry.Register(p)
	}
	return registry
}
