package v1alpha1

import (
	"time"
)

// RolloutPhase describes where a Rollout is in its lifecycle.
type RolloutPhase string

const (
	// RolloutPhaseProgressing denotes a Rollout that is actively advancing
	// through its steps.
	RolloutPhaseProgressing RolloutPhase = "Progressing"
	// RolloutPhasePaused denotes a Rollout that is suspended at a Pause step.
	RolloutPhasePaused RolloutPhase = "Paused"
	// RolloutPhaseAnalysisPending denotes a Rollout that is waiting on the
	// verdict of an in-flight AnalysisRun.
	RolloutPhaseAnalysisPending RolloutPhase = "AnalysisPending"
	// RolloutPhaseDegraded denotes a Rollout whose analysis failed and whose
	// traffic is being reverted.
	RolloutPhaseDegraded RolloutPhase = "Degraded"
	// RolloutPhaseAborted denotes a Rollout whose traffic has been fully
	// reverted following a failure or an external abort.
	RolloutPhaseAborted RolloutPhase = "Aborted"
	// RolloutPhaseHealthy denotes a Rollout that completed all of its steps
	// with full traffic weight.
	RolloutPhaseHealthy RolloutPhase = "Healthy"
)

// IsTerminal returns true if the RolloutPhase is a terminal one.
func (r RolloutPhase) IsTerminal() bool {
	switch r {
	case RolloutPhaseHealthy, RolloutPhaseAborted:
		return true
	default:
		return false
	}
}

// Rollout describes one progressive-delivery execution for a single revision
// of some workload. The steps are immutable once the Rollout is created.
type Rollout struct {
	// Name uniquely identifies the Rollout.
	Name string `json:"name"`
	// Revision identifies the workload revision this Rollout delivers.
	Revision string `json:"revision,omitempty"`
	// Steps is the ordered list of steps the Rollout progresses through.
	Steps []Step `json:"steps"`
	// AnalysisTemplates holds the templates referenced by Analysis steps.
	AnalysisTemplates []AnalysisTemplate `json:"analysisTemplates,omitempty"`
}

// Template returns the AnalysisTemplate with the given name, or nil if the
// Rollout does not define one.
func (r *Rollout) Template(name string) *AnalysisTemplate {
	for i := range r.AnalysisTemplates {
		if r.AnalysisTemplates[i].Name == name {
			return &r.AnalysisTemplates[i]
		}
	}
	return nil
}

// HasAnalysis returns true if any step of the Rollout is an Analysis step.
func (r *Rollout) HasAnalysis() bool {
	for _, step := range r.Steps {
		if step.Analysis != nil {
			return true
		}
	}
	return false
}

// Step is one entry in a Rollout's progression. Exactly one of its fields may
// be non-nil.
type Step struct {
	// SetWeight sets the canary traffic weight to the given percentage.
	SetWeight *int32 `json:"setWeight,omitempty"`
	// Pause suspends the Rollout.
	Pause *PauseStep `json:"pause,omitempty"`
	// Analysis gates further progression on the verdict of an AnalysisRun.
	Analysis *AnalysisStep `json:"analysis,omitempty"`
}

// PauseStep suspends a Rollout for a fixed duration or, when Duration is
// zero, indefinitely until an external promote signal arrives.
type PauseStep struct {
	Duration Duration `json:"duration,omitempty"`
}

// Indefinite returns true if the pause has no bounded duration.
func (p *PauseStep) Indefinite() bool {
	return time.Duration(p.Duration) == 0
}

// AnalysisStep references the AnalysisTemplate that gates a step.
type AnalysisStep struct {
	Template string `json:"template"`
}

// AnalysisTemplate is a named, reusable set of Metrics that together gate a
// step of a Rollout.
type AnalysisTemplate struct {
	Name    string   `json:"name"`
	Metrics []Metric `json:"metrics"`
}

// Metric returns the Metric with the given name, or nil if the template
// does not define one.
func (t *AnalysisTemplate) Metric(name string) *Metric {
	for i := range t.Metrics {
		if t.Metrics[i].Name == name {
			return &t.Metrics[i]
		}
	}
	return nil
}

// Metric describes a single repeated measurement, the provider that takes
// it, and the budget of failures tolerated before the Metric is Failed.
type Metric struct {
	// Name identifies the Metric within its template.
	Name string `json:"name"`
	// Interval is the time between consecutive measurements.
	Interval Duration `json:"interval,omitempty"`
	// Count is the maximum number of measurements to take. A Metric that
	// exhausts Count without a decisive verdict is Inconclusive.
	Count int32 `json:"count,omitempty"`
	// FailureLimit is the number of consecutive Failed or Error measurements
	// after which the Metric is Failed.
	FailureLimit int32 `json:"failureLimit,omitempty"`
	// InconclusiveLimit is the number of Inconclusive measurements tolerated
	// before the Metric resolves Inconclusive without waiting out Count.
	InconclusiveLimit int32 `json:"inconclusiveLimit,omitempty"`
	// FailOnInconclusive controls whether an Inconclusive Metric counts as
	// Failed for the purposes of the overall verdict. Defaults to true.
	FailOnInconclusive *bool `json:"failOnInconclusive,omitempty"`
	// Provider describes the source of measurements for this Metric.
	Provider ProviderSpec `json:"provider"`
}

// EffectiveInterval returns the Metric's polling interval, or the provided
// default if none is set.
func (m *Metric) EffectiveInterval(def time.Duration) time.Duration {
	if d := time.Duration(m.Interval); d > 0 {
		return d
	}
	return def
}

// EffectiveCount returns the Metric's measurement count, defaulting to 1.
func (m *Metric) EffectiveCount() int32 {
	if m.Count > 0 {
		return m.Count
	}
	return 1
}

// EffectiveFailureLimit returns the Metric's failure budget, defaulting to 1.
func (m *Metric) EffectiveFailureLimit() int32 {
	if m.FailureLimit > 0 {
		return m.FailureLimit
	}
	return 1
}

// InconclusiveFails returns true if an Inconclusive resolution of this
// Metric must be treated as a failure.
func (m *Metric) InconclusiveFails() bool {
	if m.FailOnInconclusive == nil {
		return true
	}
	return *m.FailOnInconclusive
}

// ProviderSpec selects and configures the provider that measures a Metric.
// Exactly one of its fields may be non-nil.
type ProviderSpec struct {
	Query *QueryProviderSpec `json:"query,omitempty"`
	Probe *ProbeProviderSpec `json:"probe,omitempty"`
	Exec  *ExecProviderSpec  `json:"exec,omitempty"`
}

// Kind returns the name of the configured provider kind, or empty string if
// none is configured.
func (p *ProviderSpec) Kind() string {
	switch {
	case p.Query != nil:
		return "query"
	case p.Probe != nil:
		return "probe"
	case p.Exec != nil:
		return "exec"
	default:
		return ""
	}
}

// CredentialRef is an opaque handle to a credential known to the hosting
// environment. Provider specs carry only these references; the referenced
// secret material is resolved at invocation time and never enters a spec.
type CredentialRef struct {
	Name string `json:"name"`
}

// QueryProviderSpec configures a provider that evaluates a templated query
// against a metrics backend and compares the scalar result to a success
// condition.
type QueryProviderSpec struct {
	// Address is the base URL of the metrics backend.
	Address string `json:"address"`
	// Query is the query to execute. Occurrences of {{args.<name>}} are
	// replaced from the invocation arguments before execution.
	Query string `json:"query"`
	// SuccessCondition is an expression evaluated with the scalar query
	// result bound to "result", e.g. "result >= 0.95".
	SuccessCondition string `json:"successCondition"`
	// CredentialRef optionally names a bearer credential for the backend.
	CredentialRef *CredentialRef `json:"credentialRef,omitempty"`
}

// ProbeProviderSpec configures a provider that issues a synthetic HTTP
// request and inspects its status and latency.
type ProbeProviderSpec struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	// ExpectStatus is the status code considered a pass. Defaults to 200.
	ExpectStatus int `json:"expectStatus,omitempty"`
	// MaxLatency fails the probe if the response takes longer, even with a
	// passing status.
	MaxLatency Duration `json:"maxLatency,omitempty"`
	// Headers holds plain, non-sensitive request headers.
	Headers map[string]string `json:"headers,omitempty"`
	// CredentialHeaders maps header names to credential references. The
	// referenced values are resolved and attached to the live request at
	// invocation time; they never appear in the spec.
	CredentialHeaders map[string]CredentialRef `json:"credentialHeaders,omitempty"`
	// CredentialRef optionally names a bearer credential for the probe
	// target. The resolved value is attached at invocation time; it never
	// appears in the spec.
	CredentialRef *CredentialRef `json:"credentialRef,omitempty"`
}

// ExecProviderSpec configures a provider that runs an isolated check command
// and interprets its exit code: zero = pass, non-zero = fail, timeout =
// error.
type ExecProviderSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	// Env holds plain, non-sensitive environment bindings for the command.
	Env map[string]string `json:"env,omitempty"`
	// CredentialEnv maps environment variable names to credential
	// references. The referenced values are resolved and injected into the
	// command's environment at invocation time.
	CredentialEnv map[string]CredentialRef `json:"credentialEnv,omitempty"`
	// Timeout bounds a single invocation of the command.
	Timeout Duration `json:"timeout,omitempty"`
}
