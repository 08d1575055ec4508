package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/analysis/provider"
	"github.com/stagegate/stagegate/internal/credentials"
	"github.com/stagegate/stagegate/internal/logging"
)

// RunnerConfig represents configuration for a Runner.
type RunnerConfig struct {
	// DefaultInterval is the polling interval for Metrics that do not
	// specify one.
	DefaultInterval time.Duration `envconfig:"ANALYSIS_DEFAULT_INTERVAL" default:"10s"`
	// DefaultTimeout bounds a single provider invocation.
	DefaultTimeout time.Duration `envconfig:"ANALYSIS_DEFAULT_TIMEOUT" default:"30s"`
	// HardTimeoutSlack is added to every Metric's count x interval budget to
	// obtain the hard bound on the whole AnalysisRun. The bound guarantees
	// an AnalysisRun can never leave its Rollout pending indefinitely.
	HardTimeoutSlack time.Duration `envconfig:"ANALYSIS_HARD_TIMEOUT_SLACK" default:"30s"`
	// MaxResultHistory caps the measurement history retained per Metric.
	MaxResultHistory int `envconfig:"ANALYSIS_MAX_RESULT_HISTORY" default:"50"`
}

// RunnerConfigFromEnv returns a RunnerConfig populated from the environment.
func RunnerConfigFromEnv() RunnerConfig {
	cfg := RunnerConfig{}
	envconfig.MustProcess("", &cfg)
	return cfg
}

// Runner executes AnalysisRuns: for each Metric of a template it polls the
// associated provider on the Metric's interval, enforces the Metric's
// failure budget, and aggregates per-Metric verdicts into the run's overall
// verdict. Metrics are polled concurrently; aggregation happens after all
// Metric goroutines have resolved, so the returned AnalysisRun is never
// mutated concurrently.
type Runner struct {
	registry provider.Registry
	credsDB  credentials.Database
	store    *Store
	cfg      RunnerConfig
}

// NewRunner returns a new Runner.
func NewRunner(
	registry provider.Registry,
	credsDB credentials.Database,
	store *Store,
	cfg RunnerConfig,
) *Runner {
	return &Runner{
		registry: registry,
		credsDB:  credsDB,
		store:    store,
		cfg:      cfg,
	}
}

// Run executes the provided template to completion and returns the resolved
// AnalysisRun. Cancellation of ctx is observed by every polling loop within
// one interval; a canceled run resolves with the Error phase. Run returns a
// non-nil error only when the template references a provider kind that is
// not registered, which is a configuration problem rather than a verdict.
func (r *Runner) Run(
	ctx context.Context,
	rollout string,
	template *v1alpha1.AnalysisTemplate,
	args map[string]string,
) (*v1alpha1.AnalysisRun, error) {
	run := &v1alpha1.AnalysisRun{
		ID:        ulid.Make().String(),
		Rollout:   rollout,
		Template:  template.Name,
		Phase:     v1alpha1.AnalysisRunPhaseRunning,
		Metrics:   make([]v1alpha1.MetricStatus, len(template.Metrics)),
		StartedAt: time.Now(),
	}

	logger := logging.LoggerFromContext(ctx).WithValues(
		"analysisRun", run.ID,
		"template", template.Name,
	)
	ctx = logging.ContextWithLogger(ctx, logger)

	// Fail fast on unresolvable providers before any polling starts.
	providers := make([]provider.Provider, len(template.Metrics))
	for i, metric := range template.Metrics {
		kind := metric.Provider.Kind()
		p := r.registry.Get(kind)
		if p == nil {
			return nil, fmt.Errorf(
				"%w: metric %q references unknown provider kind %q",
				v1alpha1.ErrInvalidTemplate, metric.Name, kind,
			)
		}
		providers[i] = p
		run.Metrics[i] = v1alpha1.MetricStatus{
			Name:     metric.Name,
			Provider: kind,
			Verdict:  v1alpha1.MetricVerdictPending,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.hardTimeout(template))
	defer cancel()

	logger.Info("analysis run started", "metrics", len(template.Metrics))

	collector := &metricCollector{statuses: run.Metrics}
	g, ctx := errgroup.WithContext(ctx)
	for i := range template.Metrics {
		metric := &template.Metrics[i]
		p := providers[i]
		index := i
		g.Go(func() error {
			status := r.pollMetric(ctx, metric, p, &provider.Invocation{
				Rollout:       rollout,
				Args:          args,
				CredentialsDB: r.credsDB,
				Timeout:       r.cfg.DefaultTimeout,
			})
			collector.set(index, status)
			return nil
		})
	}
	_ = g.Wait() // Metric goroutines report through the collector.

	run.Metrics = collector.statuses
	r.resolve(run, template)

	now := time.Now()
	run.FinishedAt = &now
	if r.store != nil {
		r.store.Put(run)
	}

	logger.Info(
		"analysis run resolved",
		"phase", run.Phase,
		"message", run.Message,
	)
	return run, nil
}

// hardTimeout computes the bound on the whole run: the largest per-Metric
// count x interval budget plus configured slack.
func (r *Runner) hardTimeout(template *v1alpha1.AnalysisTemplate) time.Duration {
	var maxBudget time.Duration
	for i := range template.Metrics {
		metric := &template.Metrics[i]
		budget := metric.EffectiveInterval(r.cfg.DefaultInterval) *
			time.Duration(metric.EffectiveCount())
		if budget > maxBudget {
			maxBudget = budget
		}
	}
	return maxBudget + r.cfg.HardTimeoutSlack
}

// pollMetric runs one Metric's polling loop to resolution. The first
// measurement is taken immediately; subsequent measurements follow on the
// Metric's interval. Cancellation is observed between measurements.
func (r *Runner) pollMetric(
	ctx context.Context,
	metric *v1alpha1.Metric,
	p provider.Provider,
	invocation *provider.Invocation,
) v1alpha1.MetricStatus {
	logger := logging.LoggerFromContext(ctx).WithValues("metric", metric.Name)

	status := v1alpha1.MetricStatus{
		Name:     metric.Name,
		Provider: p.Name(),
		Verdict:  v1alpha1.MetricVerdictPending,
	}

	count := metric.EffectiveCount()
	failureLimit := metric.EffectiveFailureLimit()
	interval := metric.EffectiveInterval(r.cfg.DefaultInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for status.Measurements < count {
		if ctx.Err() != nil {
			status.Verdict = v1alpha1.MetricVerdictError
			return status
		}

		result := p.Invoke(ctx, metric, invocation)
		status.Measurements++
		status.Results = append(status.Results, result)
		if len(status.Results) > r.cfg.MaxResultHistory && r.cfg.MaxResultHistory > 0 {
			status.Results = status.Results[1:]
		}

		switch result.Verdict {
		case v1alpha1.MetricVerdictSuccessful:
			status.ConsecutiveFailures = 0
		case v1alpha1.MetricVerdictInconclusive:
			status.Inconclusive++
			if status.Inconclusive > metric.InconclusiveLimit {
				status.Verdict = v1alpha1.MetricVerdictInconclusive
				return status
			}
		case v1alpha1.MetricVerdictError:
			// Provider errors count toward the failure budget just like
			// measured failures, but are tallied distinctly for the report.
			status.Errored++
			status.ConsecutiveFailures++
		default:
			status.Failed++
			status.ConsecutiveFailures++
		}

		logger.Debug(
			"measurement taken",
			"verdict", result.Verdict,
			"value", result.Value,
			"consecutiveFailures", status.ConsecutiveFailures,
		)

		if status.ConsecutiveFailures >= failureLimit {
			status.Verdict = v1alpha1.MetricVerdictFailed
			return status
		}
		if status.Measurements >= count {
			break
		}

		// A full interval separates the end of one measurement from the
		// start of the next, even when the measurement itself was slow.
		ticker.Reset(interval)
		select {
		case <-ctx.Done():
			status.Verdict = v1alpha1.MetricVerdictError
			return status
		case <-ticker.C:
		}
	}

	// The budget is exhausted without breaching a limit. The Metric is
	// decisive only when it ends outside a failure streak and at least one
	// measurement actually passed; a Metric that measured nothing but
	// errors or trails off mid-streak is undecided, and the inconclusive
	// policy applies.
	successes := status.Measurements - status.Failed - status.Errored -
		status.Inconclusive
	if status.ConsecutiveFailures == 0 && successes > 0 {
		status.Verdict = v1alpha1.MetricVerdictSuccessful
	} else {
		status.Verdict = v1alpha1.MetricVerdictInconclusive
	}
	return status
}

// resolve computes the run's overall phase from its resolved Metrics:
// Failed if any Metric is Failed (or Inconclusive under the default
// inconclusive-fails policy), Error if any Metric errored out without a
// verdict, Successful only when every Metric passed.
func (r *Runner) resolve(
	run *v1alpha1.AnalysisRun,
	template *v1alpha1.AnalysisTemplate,
) {
	overall := v1alpha1.AnalysisRunPhaseSuccessful
	for i := range run.Metrics {
		status := &run.Metrics[i]
		metric := template.Metric(status.Name)

		switch status.Verdict {
		case v1alpha1.MetricVerdictFailed:
			run.Phase = v1alpha1.AnalysisRunPhaseFailed
			run.Message = fmt.Sprintf(
				"metric %q (provider %q) failed: %s",
				status.Name, status.Provider, lastMessage(status),
			)
			return
		case v1alpha1.MetricVerdictError:
			overall = v1alpha1.AnalysisRunPhaseError
			if run.Message == "" {
				run.Message = fmt.Sprintf(
					"metric %q (provider %q) did not resolve: %s",
					status.Name, status.Provider, lastMessage(status),
				)
			}
		case v1alpha1.MetricVerdictInconclusive:
			if metric != nil && metric.InconclusiveFails() {
				run.Phase = v1alpha1.AnalysisRunPhaseFailed
				run.Message = fmt.Sprintf(
					"metric %q (provider %q) was inconclusive after %d measurements",
					status.Name, status.Provider, status.Measurements,
				)
				return
			}
			if overall == v1alpha1.AnalysisRunPhaseSuccessful {
				overall = v1alpha1.AnalysisRunPhaseInconclusive
			}
		}
	}
	run.Phase = overall
}

func lastMessage(status *v1alpha1.MetricStatus) string {
	for i := len(status.Results) - 1; i >= 0; i-- {
		if msg := status.Results[i].Message; msg != "" {
			return msg
		}
	}
	return "no further detail"
}

// metricCollector synchronizes per-Metric goroutines' writes into the run's
// status slice. Each goroutine owns exactly one slot.
type metricCollector struct {
	mu       sync.Mutex
	statuses []v1alpha1.MetricStatus
}

func (c *metricCollector) set(index int, status v1alpha1.MetricStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[index] = status
}
