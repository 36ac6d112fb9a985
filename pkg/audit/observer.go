package audit

import (
	"sync"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/push"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Observer turns status snapshots into audit events. The first snapshot of a
// deployment emits deploy_start, each change of a device's stage or state
// emits device_stage, and the terminal snapshot emits deploy_result. It
// satisfies orchestrator.Observer.
type Observer struct {
	logger Logger
	user   string

	mu       sync.Mutex
	seen     map[string]map[string]model.DeviceResult
	finished map[string]bool
}

// NewObserver records events attributed to user. A nil logger writes through
// the default logger.
func NewObserver(logger Logger, user string) *Observer {
	return &Observer{
		logger:   logger,
		user:     user,
		seen:     make(map[string]map[string]model.DeviceResult),
		finished: make(map[string]bool),
	}
}

// Publish implements orchestrator.Observer.
func (o *Observer) Publish(deploymentID string, s model.DeploymentStatus) {
	for _, e := range o.events(deploymentID, s) {
		o.write(e)
	}
}

func (o *Observer) events(id string, s model.DeploymentStatus) []*Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.finished[id] {
		return nil
	}
	var out []*Event
	prev := o.seen[id]
	if prev == nil {
		prev = make(map[string]model.DeviceResult)
		o.seen[id] = prev
		e := NewEvent(o.user, EventStart, id).WithExecuteMode(true).WithSuccess()
		e.Timestamp = s.StartedAt
		out = append(out, e)
	}

	for dev, r := range s.DeviceResults {
		if p, ok := prev[dev]; ok && p.Stage == r.Stage && p.State == r.State {
			continue
		}
		prev[dev] = r
		e := NewEvent(o.user, EventDevice, id).WithDevice(dev, r.Stage, r.State).WithMessage(r.Message)
		if r.State == string(push.StateFailed) {
			e.Success = false
			e.Error = r.Message
		} else {
			e.Success = true
		}
		e.ExecuteMode = true
		out = append(out, e)
	}

	if s.Finished() {
		o.finished[id] = true
		delete(o.seen, id)
		e := NewEvent(o.user, EventResult, id).WithExecuteMode(true).WithDuration(s.UpdatedAt.Sub(s.StartedAt))
		e.State = s.Status
		e.Success = s.Status == model.StatusCompleted
		if len(s.Errors) > 0 {
			e.Error = s.Errors[len(s.Errors)-1]
		}
		out = append(out, e)
	}
	return out
}

func (o *Observer) write(e *Event) {
	var err error
	if o.logger != nil {
		err = o.logger.Log(e)
	} else {
		err = Log(e)
	}
	if err != nil {
		util.WithDeployment(e.DeploymentID).Warnf("audit: %v", err)
	}
}
