package rollout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/event"
)

// ControllerConfig represents configuration for a Controller.
type ControllerConfig struct {
	// RollbackConfirmTimeout bounds how long traffic reversion may take
	// before the rollback controller escalates.
	RollbackConfirmTimeout time.Duration `envconfig:"ROLLBACK_CONFIRM_TIMEOUT" default:"1m"`
}

// ControllerConfigFromEnv returns a ControllerConfig populated from the
// environment.
func ControllerConfigFromEnv() ControllerConfig {
	cfg := ControllerConfig{}
	envconfig.MustProcess("", &cfg)
	return cfg
}

// Controller supervises Rollout executions. Each launched Rollout runs in
// its own goroutine and progresses independently of the others; the
// Controller routes control signals to the right executor and serves status
// snapshots.
type Controller struct {
	runner   AnalysisRunner
	router   TrafficRouter
	rollback *RollbackController
	bus      *event.Bus

	mu        sync.Mutex
	executors map[string]*Executor
}

// NewController returns a new Controller.
func NewController(
	runner AnalysisRunner,
	router TrafficRouter,
	bus *event.Bus,
	cfg ControllerConfig,
) *Controller {
	return &Controller{
		runner:    runner,
		router:    router,
		rollback:  NewRollbackController(router, bus, cfg.RollbackConfirmTimeout),
		bus:       bus,
		executors: map[string]*Executor{},
	}
}

// Launch validates the Rollout and starts executing it. A Rollout name may
// be relaunched only once its previous execution has terminated; the new
// execution supersedes the old record.
func (c *Controller) Launch(
	ctx context.Context,
	r *v1alpha1.Rollout,
) (*Executor, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.executors[r.Name]; ok {
		if !existing.Status().Phase.IsTerminal() {
			return nil, fmt.Errorf(
				"rollout %q is already in progress", r.Name,
			)
		}
	}

	executor := NewExecutor(r, c.runner, c.router, c.rollback, c.bus)
	c.executors[r.Name] = executor
	go executor.Run(ctx)
	return executor, nil
}

func (c *Controller) executor(name string) (*Executor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	executor, ok := c.executors[name]
	if !ok {
		return nil, fmt.Errorf("no such rollout %q", name)
	}
	return executor, nil
}

// Promote force-advances the named Rollout past a Pause step or releases
// an external hold.
func (c *Controller) Promote(name string) error {
	executor, err := c.executor(name)
	if err != nil {
		return err
	}
	executor.Promote()
	return nil
}

// Pause places an external hold on the named Rollout.
func (c *Controller) Pause(name string) error {
	executor, err := c.executor(name)
	if err != nil {
		return err
	}
	executor.Pause()
	return nil
}

// Abort requests a rollback of the named Rollout.
func (c *Controller) Abort(name, reason string) error {
	executor, err := c.executor(name)
	if err != nil {
		return err
	}
	executor.Abort(reason)
	return nil
}

// Status returns a snapshot of the named Rollout's status.
func (c *Controller) Status(name string) (v1alpha1.RolloutStatus, error) {
	executor, err := c.executor(name)
	if err != nil {
		return v1alpha1.RolloutStatus{}, err
	}
	return executor.Status(), nil
}

// List returns status snapshots for all known Rollouts, ordered by name.
func (c *Controller) List() []v1alpha1.RolloutStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	statuses := make([]v1alpha1.RolloutStatus, 0, len(c.executors))
	for _, executor := range c.executors {
		statuses = append(statuses, executor.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}
