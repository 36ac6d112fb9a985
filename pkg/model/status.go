package model

import "time"

// Deployment lifecycle states.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusAborted    = "aborted"
	StatusRolledBack = "rolled_back"
)

// DeviceResult is the latest push outcome for one device.
type DeviceResult struct {
	DeviceID string    `json:"device_id" yaml:"device_id"`
	Stage    string    `json:"stage" yaml:"stage"`
	State    string    `json:"state" yaml:"state"`
	Message  string    `json:"message,omitempty" yaml:"message,omitempty"`
	NoOp     bool      `json:"no_op,omitempty" yaml:"no_op,omitempty"`
	Updated  time.Time `json:"updated" yaml:"updated"`
}

// DeploymentStatus is the live record of one in-flight deployment. The
// orchestrator owns it; callers receive copies.
type DeploymentStatus struct {
	DeploymentID  string                  `json:"deployment_id" yaml:"deployment_id"`
	Status        string                  `json:"status" yaml:"status"`
	CurrentStage  string                  `json:"current_stage" yaml:"current_stage"`
	Progress      float64                 `json:"progress" yaml:"progress"`
	Logs          []string                `json:"logs" yaml:"logs"`
	Errors        []string                `json:"errors" yaml:"errors"`
	DeviceResults map[string]DeviceResult `json:"device_results" yaml:"device_results"`
	StartedAt     time.Time               `json:"started_at" yaml:"started_at"`
	UpdatedAt     time.Time               `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy safe to hand to observers.
func (s *DeploymentStatus) Clone() DeploymentStatus {
	c := *s
	c.Logs = append([]string(nil), s.Logs...)
	c.Errors = append([]string(nil), s.Errors...)
	c.DeviceResults = make(map[string]DeviceResult, len(s.DeviceResults))
	for k, v := range s.DeviceResults {
		c.DeviceResults[k] = v
	}
	return c
}

// Finished reports whether the deployment reached a terminal state.
func (s *DeploymentStatus) Finished() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusAborted, StatusRolledBack:
		return true
	}
	return false
}
