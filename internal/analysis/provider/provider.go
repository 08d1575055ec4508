package provider

import (
	"context"
	"time"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/credentials"
)

// Provider is an interface for components that take a single measurement of
// a Metric. Implementations are a closed set: query, probe and exec. A
// Provider never returns a Go error from Invoke; anything that prevents a
// measurement from being taken (backend unreachable, malformed response,
// credential resolution failure, timeout) is reported as a MetricResult
// with the Error verdict so that it counts toward the Metric's failure
// budget.
type Provider interface {
	// Name returns the name of the provider kind.
	Name() string
	// Invoke takes one measurement of the given Metric.
	Invoke(
		ctx context.Context,
		metric *v1alpha1.Metric,
		invocation *Invocation,
	) v1alpha1.MetricResult
}

// Invocation is the execution context for a single measurement. It carries
// everything the hosting environment resolves on the provider's behalf;
// most notably the credential database. Secret material resolved through it
// is confined to the invocation and never appears in specs or results.
type Invocation struct {
	// Rollout names the Rollout on whose behalf the measurement is taken.
	Rollout string
	// Args are substituted into templated provider fields, e.g. queries.
	Args map[string]string
	// CredentialsDB resolves the opaque credential references named in
	// provider specs.
	CredentialsDB credentials.Database
	// Timeout bounds the measurement. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// ErrorResult builds a MetricResult with the Error verdict.
func ErrorResult(msg string) v1alpha1.MetricResult {
	return v1alpha1.MetricResult{
		Timestamp: time.Now(),
		Verdict:   v1alpha1.MetricVerdictError,
		Message:   msg,
	}
}

// Registry is a registry of Providers keyed by their self-reported names.
type Registry map[string]Provider

// NewRegistry returns an empty Registry.
func NewRegistry() Registry {
	return Registry{}
}

// Register adds a Provider to the Registry.
func (r Registry) Register(p Provider) {
	r[p.Name()] = p
}

// Get returns the Provider with the given name. If no Provider is
// registered with the given name, nil is returned instead.
func (r Registry) Get(name string) Provider {
	return r[name]
}
