// Package orchestrator turns a diff into an execution plan and runs it
// across a device fleet with a per-group check, commit, verify barrier.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/newtron-network/newtdeploy/pkg/diff"
	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/push"
	"github.com/newtron-network/newtdeploy/pkg/rollback"
	"github.com/newtron-network/newtdeploy/pkg/validation"
)

// Observer receives a status snapshot after every change to a deployment.
// Publish must not block for long. Calls for one deployment are serialized
// and arrive in update order.
type Observer interface {
	Publish(deploymentID string, snapshot model.DeploymentStatus)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(deploymentID string, snapshot model.DeploymentStatus)

// Publish implements Observer.
func (f ObserverFunc) Publish(id string, s model.DeploymentStatus) { f(id, s) }

// MultiObserver fans a snapshot out to every observer in order.
type MultiObserver []Observer

// Publish implements Observer.
func (m MultiObserver) Publish(id string, s model.DeploymentStatus) {
	for _, o := range m {
		if o != nil {
			o.Publish(id, s)
		}
	}
}

// Orchestrator plans and executes deployments.
type Orchestrator struct {
	Engine     *diff.Engine
	Validation *validation.Framework
	Rollback   *rollback.Manager
	Executor   *push.Executor
	Observer   Observer

	// Preferences feed the validation rules (max_devices, max_failure_ratio).
	Preferences map[string]string

	mu       sync.RWMutex
	statuses map[string]*tracker

	newID func() string
}

// New creates an Orchestrator with the default diff engine and validation
// catalog. A nil rollback manager uses an in-memory store.
func New(executor *push.Executor, rb *rollback.Manager) *Orchestrator {
	if rb == nil {
		rb = rollback.NewManager(nil)
	}
	return &Orchestrator{
		Engine:      diff.NewEngine(),
		Validation:  validation.NewFramework(),
		Rollback:    rb,
		Executor:    executor,
		Preferences: make(map[string]string),
		statuses:    make(map[string]*tracker),
		newID:       uuid.NewString,
	}
}

// Deploy runs the whole pipeline: diff, plan, snapshot rollback, execute.
func (o *Orchestrator) Deploy(ctx context.Context, current, desired *model.ConfigSet, strategy model.Strategy, configID string) (*model.DeploymentResult, error) {
	if current == nil {
		current = model.NewConfigSet()
	}
	d, err := o.Engine.Compute(current, desired)
	if err != nil {
		return nil, fmt.Errorf("computing diff: %w", err)
	}

	plan, err := o.GeneratePlan(ctx, d, strategy, configID)
	if err != nil {
		return nil, err
	}
	plan.CurrentConfig = current

	snap, err := o.Rollback.PrepareRollbackFromConfig(plan.DeploymentID, current, configID)
	if err != nil {
		return nil, fmt.Errorf("preparing snapshot rollback: %w", err)
	}
	if err := o.Rollback.Store(ctx, snap); err != nil {
		return nil, fmt.Errorf("storing snapshot rollback: %w", err)
	}

	return o.Execute(ctx, plan, desired)
}

// GetStatus returns a copy of a deployment's live status.
func (o *Orchestrator) GetStatus(deploymentID string) (*model.DeploymentStatus, bool) {
	o.mu.RLock()
	t, ok := o.statuses[deploymentID]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := t.snapshot()
	return &s, true
}

// ListStatuses returns every tracked deployment, oldest first.
func (o *Orchestrator) ListStatuses() []model.DeploymentStatus {
	o.mu.RLock()
	out := make([]model.DeploymentStatus, 0, len(o.statuses))
	for _, t := range o.statuses {
		out = append(out, t.snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].DeploymentID < out[j].DeploymentID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Cleanup discards a deployment's status record and validation history.
func (o *Orchestrator) Cleanup(deploymentID string) {
	o.mu.Lock()
	delete(o.statuses, deploymentID)
	o.mu.Unlock()
	o.Validation.ClearHistory(deploymentID)
}

func (o *Orchestrator) track(deploymentID string) *tracker {
	t := newTracker(deploymentID, o.Observer)
	o.mu.Lock()
	o.statuses[deploymentID] = t
	o.mu.Unlock()
	return t
}
