package v1alpha1

import (
	"time"
)

// AnalysisRunPhase describes where an AnalysisRun is in its lifecycle.
type AnalysisRunPhase string

const (
	// AnalysisRunPhasePending denotes an AnalysisRun that has not started.
	AnalysisRunPhasePending AnalysisRunPhase = "Pending"
	// AnalysisRunPhaseRunning denotes an AnalysisRun that is taking
	// measurements.
	AnalysisRunPhaseRunning AnalysisRunPhase = "Running"
	// AnalysisRunPhaseSuccessful denotes an AnalysisRun whose Metrics all
	// resolved Successful.
	AnalysisRunPhaseSuccessful AnalysisRunPhase = "Successful"
	// AnalysisRunPhaseFailed denotes an AnalysisRun with at least one Failed
	// Metric.
	AnalysisRunPhaseFailed AnalysisRunPhase = "Failed"
	// AnalysisRunPhaseInconclusive denotes an AnalysisRun that exhausted its
	// measurement budget without a decisive verdict.
	AnalysisRunPhaseInconclusive AnalysisRunPhase = "Inconclusive"
	// AnalysisRunPhaseError denotes an AnalysisRun that could not be
	// executed at all.
	AnalysisRunPhaseError AnalysisRunPhase = "Error"
)

// IsTerminal returns true if the AnalysisRunPhase is a terminal one.
func (a AnalysisRunPhase) IsTerminal() bool {
	switch a {
	case AnalysisRunPhaseSuccessful, AnalysisRunPhaseFailed,
		AnalysisRunPhaseInconclusive, AnalysisRunPhaseError:
		return true
	default:
		return false
	}
}

// MetricVerdict is the outcome of a single measurement, or of a Metric as a
// whole once resolved.
type MetricVerdict string

const (
	MetricVerdictPending      MetricVerdict = "Pending"
	MetricVerdictSuccessful   MetricVerdict = "Successful"
	MetricVerdictFailed       MetricVerdict = "Failed"
	MetricVerdictInconclusive MetricVerdict = "Inconclusive"
	// MetricVerdictError denotes a measurement that could not be taken:
	// backend unreachable, malformed response, credential resolution
	// failure, or timeout. Errors count toward the failure budget like
	// Failed measurements.
	MetricVerdictError MetricVerdict = "Error"
)

// IsTerminal returns true if the MetricVerdict is a terminal one.
func (m MetricVerdict) IsTerminal() bool {
	switch m {
	case MetricVerdictSuccessful, MetricVerdictFailed,
		MetricVerdictInconclusive, MetricVerdictError:
		return true
	default:
		return false
	}
}

// AnalysisRun is the runtime instantiation of an AnalysisTemplate for one
// Analysis step of one Rollout. It is owned exclusively by that Rollout.
type AnalysisRun struct {
	// ID uniquely identifies the run. IDs are ULIDs and therefore sort by
	// creation time.
	ID string `json:"id"`
	// Rollout names the owning Rollout.
	Rollout string `json:"rollout"`
	// Template names the AnalysisTemplate this run instantiates.
	Template string `json:"template"`
	// Phase is the overall verdict of the run.
	Phase AnalysisRunPhase `json:"phase"`
	// Message explains terminal phases, naming the Metric and provider that
	// decided the verdict.
	Message string `json:"message,omitempty"`
	// Metrics holds per-Metric state and measurement history.
	Metrics []MetricStatus `json:"metrics"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// MetricStatus returns the status of the named Metric, or nil.
func (a *AnalysisRun) MetricStatus(name string) *MetricStatus {
	for i := range a.Metrics {
		if a.Metrics[i].Name == name {
			return &a.Metrics[i]
		}
	}
	return nil
}

// MetricStatus tracks one Metric's progress within an AnalysisRun.
type MetricStatus struct {
	Name string `json:"name"`
	// Provider records the provider kind that measured this Metric.
	Provider string `json:"provider"`
	// Verdict is the Metric's resolved verdict, or Pending while polling.
	Verdict MetricVerdict `json:"verdict"`
	// Measurements counts all measurements taken.
	Measurements int32 `json:"measurements"`
	// Failed, Errored and Inconclusive count measurements by outcome.
	Failed       int32 `json:"failed"`
	Errored      int32 `json:"errored"`
	Inconclusive int32 `json:"inconclusive"`
	// ConsecutiveFailures counts the current streak of Failed or Error
	// measurements. Reset by any Successful measurement.
	ConsecutiveFailures int32 `json:"consecutiveFailures"`
	// Results is the measurement history, oldest first.
	Results []MetricResult `json:"results,omitempty"`
}

// MetricResult is a single measurement taken by a provider.
type MetricResult struct {
	Timestamp time.Time     `json:"timestamp"`
	Verdict   MetricVerdict `json:"verdict"`
	// Value is the provider's raw observation rendered as a string, e.g.
	// the scalar a query returned or the status a probe observed.
	Value string `json:"value,omitempty"`
	// Message explains Failed, Error and Inconclusive measurements.
	Message string `json:"message,omitempty"`
}

// RolloutStatus is the externally visible state of a Rollout. It is mutated
// only by the rollout executor.
type RolloutStatus struct {
	// ID uniquely identifies this execution of the Rollout.
	ID string `json:"id"`
	// Name is the Rollout's name.
	Name string `json:"name"`
	// Phase is the Rollout's current phase.
	Phase RolloutPhase `json:"phase"`
	// StepIndex is the index of the step currently executing, or one past
	// the last step once the Rollout is terminal.
	StepIndex int32 `json:"stepIndex"`
	// Weight is the current canary traffic weight, 0-100.
	Weight int32 `json:"weight"`
	// Message explains the current phase.
	Message string `json:"message,omitempty"`
	// FailureReport is populated when the Rollout degrades.
	FailureReport *FailureReport `json:"failureReport,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// FailureReport is the structured record emitted when a Rollout degrades,
// identifying what failed and the most recent measurements that led there.
type FailureReport struct {
	// AnalysisRunID references the run whose verdict triggered the
	// rollback. Empty for externally requested aborts.
	AnalysisRunID string `json:"analysisRunID,omitempty"`
	// Metric names the Metric that decided the verdict.
	Metric string `json:"metric,omitempty"`
	// Provider is the kind of provider that measured the Metric.
	Provider string `json:"provider,omitempty"`
	// Reason is a human-readable summary.
	Reason string `json:"reason"`
	// LastResults holds the last measurements of the failing Metric,
	// oldest first.
	LastResults []MetricResult `json:"lastResults,omitempty"`
}
