package event

import (
	"context"
	"sync"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/logging"
)

// Event is a typed payload published at significant rollout transitions.
// Downstream pipelines (deploy chaining, alerting) consume these instead of
// observing rollout state ambiently, keeping ownership and retry semantics
// explicit on the consumer side.
type Event interface {
	// Kind returns the event's type name.
	Kind() string
}

// RolloutCompleted is published when a Rollout reaches the Healthy phase.
type RolloutCompleted struct {
	Status v1alpha1.RolloutStatus
}

func (RolloutCompleted) Kind() string { return "RolloutCompleted" }

// RolloutAborted is published once a Rollout's traffic has been fully
// reverted. It carries the failure report exactly once; rollback idempotency
// guarantees no duplicate emission for the same Rollout.
type RolloutAborted struct {
	Status v1alpha1.RolloutStatus
	Report v1alpha1.FailureReport
}

func (RolloutAborted) Kind() string { return "RolloutAborted" }

// AnalysisRunCompleted is published when an AnalysisRun resolves.
type AnalysisRunCompleted struct {
	Run v1alpha1.AnalysisRun
}

func (AnalysisRunCompleted) Kind() string { return "AnalysisRunCompleted" }

// RollbackEscalation is published when traffic reversion could not be
// confirmed within its bound. It is an alert to an external operator, not a
// retry trigger.
type RollbackEscalation struct {
	Status v1alpha1.RolloutStatus
	Reason string
}

func (RollbackEscalation) Kind() string { return "RollbackEscalation" }

type subscriber struct {
	ch chan Event
}

// Bus is an in-process publish/subscribe channel for Events. Publishing
// never blocks: a subscriber that cannot keep up loses events, which is
// logged. Consumers needing delivery guarantees must drain promptly.
type Bus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBus returns a new Bus.
func NewBus() *Bus {
	return &Bus{subs: map[*subscriber]struct{}{}}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel along with a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// Publish delivers the event to all current subscribers.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			logging.LoggerFromContext(ctx).Info(
				"dropped event for slow subscriber",
				"kind", e.Kind(),
			)
		}
	}
}
