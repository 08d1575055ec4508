package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/event"
	"github.com/stagegate/stagegate/internal/logging"
)

// AnalysisRunner is an interface for components that execute an
// AnalysisTemplate to completion on behalf of a Rollout. It is implemented
// by analysis.Runner.
type AnalysisRunner interface {
	Run(
		ctx context.Context,
		rollout string,
		template *v1alpha1.AnalysisTemplate,
		args map[string]string,
	) (*v1alpha1.AnalysisRun, error)
}

// failureReportResults caps how many trailing measurements of the deciding
// Metric a failure report carries.
const failureReportResults = 10

// Executor drives a single Rollout through its steps. The Run goroutine is
// the only writer of the Rollout's status; control signals reach it through
// channels and verdicts reach it as return values, never by shared mutation.
type Executor struct {
	rollout  *v1alpha1.Rollout
	runner   AnalysisRunner
	router   TrafficRouter
	rollback *RollbackController
	bus      *event.Bus

	statusMu sync.RWMutex
	status   v1alpha1.RolloutStatus

	promoteCh chan struct{}

	holdMu sync.Mutex
	held   bool

	abortOnce   sync.Once
	abortCh     chan struct{}
	abortReason string

	done chan struct{}
}

// NewExecutor returns an Executor for the provided Rollout. The Rollout
// must already have passed validation.
func NewExecutor(
	r *v1alpha1.Rollout,
	runner AnalysisRunner,
	router TrafficRouter,
	rollback *RollbackController,
	bus *event.Bus,
) *Executor {
	return &Executor{
		rollout:  r,
		runner:   runner,
		router:   router,
		rollback: rollback,
		bus:      bus,
		status: v1alpha1.RolloutStatus{
			ID:        uuid.NewString(),
			Name:      r.Name,
			Phase:     v1alpha1.RolloutPhaseProgressing,
			StartedAt: time.Now(),
		},
		promoteCh: make(chan struct{}, 1),
		abortCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Status returns a snapshot of the Rollout's status.
func (e *Executor) Status() v1alpha1.RolloutStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// Done returns a channel that is closed once the Rollout reaches a terminal
// phase.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Promote force-advances the Rollout past a Pause step and releases any
// external hold.
func (e *Executor) Promote() {
	e.holdMu.Lock()
	e.held = false
	e.holdMu.Unlock()
	select {
	case e.promoteCh <- struct{}{}:
	default:
	}
}

// Pause places an external hold on the Rollout. The hold takes effect at
// the next step boundary and lasts until Promote is called.
func (e *Executor) Pause() {
	e.holdMu.Lock()
	e.held = true
	e.holdMu.Unlock()
}

// Abort requests a rollback. In-flight analysis observes the signal within
// one polling interval. Abort is idempotent; only the first reason is kept.
func (e *Executor) Abort(reason string) {
	e.abortOnce.Do(func() {
		e.abortReason = reason
		close(e.abortCh)
	})
}

func (e *Executor) isHeld() bool {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	return e.held
}

func (e *Executor) update(mutate func(status *v1alpha1.RolloutStatus)) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	mutate(&e.status)
}

// Run executes the Rollout to a terminal phase and returns the final
// status. It must be called exactly once.
func (e *Executor) Run(ctx context.Context) v1alpha1.RolloutStatus {
	defer close(e.done)

	logger := logging.LoggerFromContext(ctx).WithValues(
		"rollout", e.rollout.Name,
		"revision", e.rollout.Revision,
	)
	ctx = logging.ContextWithLogger(ctx, logger)
	logger.Info("rollout started", "steps", len(e.rollout.Steps))

	for i := range e.rollout.Steps {
		step := &e.rollout.Steps[i]
		e.update(func(status *v1alpha1.RolloutStatus) {
			status.StepIndex = int32(i)
			status.Phase = v1alpha1.RolloutPhaseProgressing
			status.Message = ""
		})

		if terminal, status := e.gate(ctx); terminal {
			return status
		}

		var terminal bool
		var status v1alpha1.RolloutStatus
		switch {
		case step.SetWeight != nil:
			terminal, status = e.applyWeight(ctx, *step.SetWeight)
		case step.Pause != nil:
			terminal, status = e.pause(ctx, step.Pause)
		case step.Analysis != nil:
			terminal, status = e.analyze(ctx, step.Analysis)
		}
		if terminal {
			return status
		}
	}

	// All steps completed; promote fully before declaring health.
	if e.Status().Weight < 100 {
		if terminal, status := e.applyWeight(ctx, 100); terminal {
			return status
		}
	}

	now := time.Now()
	e.update(func(status *v1alpha1.RolloutStatus) {
		status.StepIndex = int32(len(e.rollout.Steps))
		status.Phase = v1alpha1.RolloutPhaseHealthy
		status.Message = "all steps completed"
		status.FinishedAt = &now
	})
	final := e.Status()
	logger.Info("rollout healthy", "weight", final.Weight)
	e.bus.Publish(ctx, event.RolloutCompleted{Status: final})
	return final
}

// gate handles abort signals and external holds at a step boundary. It
// returns true with the final status if the Rollout terminated.
func (e *Executor) gate(ctx context.Context) (bool, v1alpha1.RolloutStatus) {
	var paused bool
	for {
		select {
		case <-e.abortCh:
			return true, e.doRollback(ctx, v1alpha1.FailureReport{
				Reason: fmt.Sprintf("aborted: %s", e.abortReason),
			})
		case <-ctx.Done():
			return true, e.doRollback(ctx, v1alpha1.FailureReport{
				Reason: "aborted: shutdown requested",
			})
		default:
		}

		if !e.isHeld() {
			if paused {
				e.update(func(status *v1alpha1.RolloutStatus) {
					status.Phase = v1alpha1.RolloutPhaseProgressing
					status.Message = ""
				})
			}
			return false, v1alpha1.RolloutStatus{}
		}

		paused = true
		e.update(func(status *v1alpha1.RolloutStatus) {
			status.Phase = v1alpha1.RolloutPhasePaused
			status.Message = "held by operator"
		})
		select {
		case <-e.promoteCh:
		case <-e.abortCh:
		case <-ctx.Done():
		}
	}
}

func (e *Executor) applyWeight(
	ctx context.Context,
	weight int32,
) (bool, v1alpha1.RolloutStatus) {
	if err := e.router.SetWeight(ctx, e.rollout.Name, weight); err != nil {
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: fmt.Sprintf("set weight %d: %s", weight, err),
		})
	}
	e.update(func(status *v1alpha1.RolloutStatus) {
		status.Weight = weight
	})
	logging.LoggerFromContext(ctx).Info("weight advanced", "weight", weight)
	return false, v1alpha1.RolloutStatus{}
}

func (e *Executor) pause(
	ctx context.Context,
	step *v1alpha1.PauseStep,
) (bool, v1alpha1.RolloutStatus) {
	logger := logging.LoggerFromContext(ctx)

	// A promote issued while nothing was paused must not pre-empt this
	// step; only a promote observed from here on advances past it.
	select {
	case <-e.promoteCh:
	default:
	}

	e.update(func(status *v1alpha1.RolloutStatus) {
		status.Phase = v1alpha1.RolloutPhasePaused
		if step.Indefinite() {
			status.Message = "paused until promoted"
		} else {
			status.Message = fmt.Sprintf("paused for %s", step.Duration)
		}
	})

	var timerCh <-chan time.Time
	if !step.Indefinite() {
		timer := time.NewTimer(time.Duration(step.Duration))
		defer timer.Stop()
		timerCh = timer.C
	}

	select {
	case <-timerCh:
		logger.Debug("pause elapsed")
	case <-e.promoteCh:
		logger.Info("promoted past pause")
	case <-e.abortCh:
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: fmt.Sprintf("aborted: %s", e.abortReason),
		})
	case <-ctx.Done():
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: "aborted: shutdown requested",
		})
	}
	return false, v1alpha1.RolloutStatus{}
}

func (e *Executor) analyze(
	ctx context.Context,
	step *v1alpha1.AnalysisStep,
) (bool, v1alpha1.RolloutStatus) {
	logger := logging.LoggerFromContext(ctx)
	template := e.rollout.Template(step.Template)
	if template == nil {
		// Validation precludes this; guard anyway.
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: fmt.Sprintf("unknown analysis template %q", step.Template),
		})
	}

	e.update(func(status *v1alpha1.RolloutStatus) {
		status.Phase = v1alpha1.RolloutPhaseAnalysisPending
		status.Message = fmt.Sprintf("awaiting analysis %q", template.Name)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		run *v1alpha1.AnalysisRun
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		run, err := e.runner.Run(runCtx, e.rollout.Name, template, map[string]string{
			"rollout":  e.rollout.Name,
			"revision": e.rollout.Revision,
		})
		resultCh <- outcome{run: run, err: err}
	}()

	var result outcome
	select {
	case <-e.abortCh:
		cancel()
		<-resultCh // let polling loops observe the cancellation and finish
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: fmt.Sprintf("aborted: %s", e.abortReason),
		})
	case <-ctx.Done():
		cancel()
		<-resultCh
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: "aborted: shutdown requested",
		})
	case result = <-resultCh:
	}

	if result.err != nil {
		return true, e.doRollback(ctx, v1alpha1.FailureReport{
			Reason: fmt.Sprintf("analysis %q could not run: %s", template.Name, result.err),
		})
	}

	run := result.run
	e.bus.Publish(ctx, event.AnalysisRunCompleted{Run: *run})

	switch run.Phase {
	case v1alpha1.AnalysisRunPhaseSuccessful:
		logger.Info("analysis successful", "analysisRun", run.ID)
		return false, v1alpha1.RolloutStatus{}
	case v1alpha1.AnalysisRunPhaseInconclusive:
		// Only reachable when the template tolerates inconclusive metrics.
		logger.Info(
			"analysis inconclusive; advancing per template policy",
			"analysisRun", run.ID,
		)
		return false, v1alpha1.RolloutStatus{}
	default:
		return true, e.doRollback(ctx, failureReport(run))
	}
}

func (e *Executor) doRollback(
	ctx context.Context,
	report v1alpha1.FailureReport,
) v1alpha1.RolloutStatus {
	final := e.rollback.Rollback(ctx, e.Status(), report)
	e.update(func(status *v1alpha1.RolloutStatus) {
		*status = final
	})
	return final
}

// failureReport builds the structured report for a failed AnalysisRun,
// citing the Metric and provider that decided the verdict along with its
// trailing measurements.
func failureReport(run *v1alpha1.AnalysisRun) v1alpha1.FailureReport {
	report := v1alpha1.FailureReport{
		AnalysisRunID: run.ID,
		Reason:        run.Message,
	}
	if report.Reason == "" {
		report.Reason = fmt.Sprintf("analysis resolved %s", run.Phase)
	}
	for i := range run.Metrics {
		status := &run.Metrics[i]
		switch status.Verdict {
		case v1alpha1.MetricVerdictFailed, v1alpha1.MetricVerdictError,
			v1alpha1.MetricVerdictInconclusive:
			report.Metric = status.Name
			report.Provider = status.Provider
			results := status.Results
			if len(results) > failureReportResults {
				results = results[len(results)-failureReportResults:]
			}
			report.LastResults = results
			return report
		}
	}
	return report
}
