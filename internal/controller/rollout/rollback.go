package rollout

import (
	"context"
	"time"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/event"
	"github.com/stagegate/stagegate/internal/logging"
)

// RollbackController reverts a degraded Rollout's traffic to zero and
// drives it to the Aborted phase. It is invoked only from the goroutine
// that owns the Rollout's status, preserving single-writer discipline.
type RollbackController struct {
	router TrafficRouter
	bus    *event.Bus
	// confirmTimeout bounds how long reversion may take before the
	// controller escalates instead of retrying.
	confirmTimeout time.Duration
}

// NewRollbackController returns a new RollbackController.
func NewRollbackController(
	router TrafficRouter,
	bus *event.Bus,
	confirmTimeout time.Duration,
) *RollbackController {
	if confirmTimeout <= 0 {
		confirmTimeout = time.Minute
	}
	return &RollbackController{
		router:         router,
		bus:            bus,
		confirmTimeout: confirmTimeout,
	}
}

// Rollback reverts traffic to zero, transitions the status through Degraded
// to Aborted, and publishes the failure report. It is idempotent: invoking
// it on an already-Aborted status is a no-op returning the current status,
// and the failure report is never emitted twice. If reversion cannot be
// confirmed within the controller's bound, the status remains Degraded and
// an escalation event is published in place of further retries.
func (r *RollbackController) Rollback(
	ctx context.Context,
	status v1alpha1.RolloutStatus,
	report v1alpha1.FailureReport,
) v1alpha1.RolloutStatus {
	if status.Phase == v1alpha1.RolloutPhaseAborted {
		return status
	}

	logger := logging.LoggerFromContext(ctx).WithValues("rollout", status.Name)

	status.Phase = v1alpha1.RolloutPhaseDegraded
	status.Message = report.Reason
	if status.FailureReport == nil {
		status.FailureReport = &report
	}

	revertCtx, cancel := context.WithTimeout(
		// Reversion must proceed even when the rollout's own context is
		// already canceled by the abort that got us here.
		context.WithoutCancel(ctx),
		r.confirmTimeout,
	)
	defer cancel()

	if err := r.router.SetWeight(revertCtx, status.Name, 0); err != nil {
		logger.Error(err, "traffic reversion not confirmed; escalating")
		r.bus.Publish(ctx, event.RollbackEscalation{
			Status: status,
			Reason: err.Error(),
		})
		return status
	}

	status.Weight = 0
	status.Phase = v1alpha1.RolloutPhaseAborted
	now := time.Now()
	status.FinishedAt = &now

	logger.Info("rollout aborted", "reason", report.Reason)
	r.bus.Publish(ctx, event.RolloutAborted{
		Status: status,
		Report: *status.FailureReport,
	})
	return status
}
