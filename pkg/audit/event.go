// Package audit records deployment lifecycle events to a JSON-lines log.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/newtdeploy/pkg/model"
)

// EventType categorizes audit events
type EventType string

const (
	EventPlan     EventType = "plan"
	EventStart    EventType = "deploy_start"
	EventDevice   EventType = "device_stage"
	EventResult   EventType = "deploy_result"
	EventRollback EventType = "rollback"
)

// Event is one auditable step of a deployment.
type Event struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	User         string        `json:"user"`
	Type         EventType     `json:"type"`
	DeploymentID string        `json:"deployment_id"`
	Device       string        `json:"device,omitempty"`
	Stage        string        `json:"stage,omitempty"`
	State        string        `json:"state,omitempty"`
	Strategy     string        `json:"strategy,omitempty"`
	Devices      []string      `json:"devices,omitempty"`
	Message      string        `json:"message,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	ExecuteMode  bool          `json:"execute_mode"` // true if -x was used
	DryRun       bool          `json:"dry_run"`
	Duration     time.Duration `json:"duration"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	DeploymentID string
	Device       string
	User         string
	Type         EventType
	StartTime    time.Time
	EndTime      time.Time
	SuccessOnly  bool
	FailureOnly  bool
	Limit        int
	Offset       int
}

// NewEvent creates a new audit event
func NewEvent(user string, t EventType, deploymentID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		User:         user,
		Type:         t,
		DeploymentID: deploymentID,
	}
}

// PlanEvent records a generated plan.
func PlanEvent(user string, p *model.DeploymentPlan, execute bool) *Event {
	e := NewEvent(user, EventPlan, p.DeploymentID).WithExecuteMode(execute).WithSuccess()
	e.Strategy = string(p.Strategy)
	for _, g := range p.Groups {
		e.Devices = append(e.Devices, g.DeviceIDs()...)
	}
	e.Message = string(p.RiskLevel)
	return e
}

// ResultEvent records the outcome of an executed deployment.
func ResultEvent(user string, r *model.DeploymentResult) *Event {
	e := NewEvent(user, EventResult, r.DeploymentID).WithExecuteMode(true).WithDuration(r.Duration)
	e.Devices = r.DeployedDevices
	e.Success = r.Success
	if !r.Success {
		e.Error = r.ErrorMessage
	}
	return e
}

// WithDevice sets the device and its push stage.
func (e *Event) WithDevice(device, stage, state string) *Event {
	e.Device = device
	e.Stage = stage
	e.State = state
	return e
}

// WithMessage sets a free-form message
func (e *Event) WithMessage(msg string) *Event {
	e.Message = msg
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithExecuteMode marks if execute mode was used
func (e *Event) WithExecuteMode(execute bool) *Event {
	e.ExecuteMode = execute
	e.DryRun = !execute
	return e
}
