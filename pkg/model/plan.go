package model

import "time"

// Strategy selects how a plan groups and orders device operations.
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyConservative Strategy = "conservative"
)

// ParseStrategy maps a user string to a Strategy, defaulting to aggressive
// so a check failure anywhere in the change leaves every device uncommitted.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyAggressive, "":
		return StrategyAggressive, true
	case StrategyConservative:
		return StrategyConservative, true
	}
	return "", false
}

// Operation is one device operation inside an execution group.
type Operation struct {
	Type     ChangeType `json:"operation_type" yaml:"operation_type"`
	DeviceID string     `json:"device_id" yaml:"device_id"`
}

// ExecutionGroup is a unit of the plan DAG. Groups are created per plan and
// never mutated after creation.
type ExecutionGroup struct {
	ID                string      `json:"group_id" yaml:"group_id"`
	Operations        []Operation `json:"operations" yaml:"operations"`
	Dependencies      []string    `json:"dependencies" yaml:"dependencies"`
	EstimatedDuration int         `json:"estimated_duration" yaml:"estimated_duration"`
	CanParallel       bool        `json:"can_parallel" yaml:"can_parallel"`
}

// DeviceIDs returns the device of every operation, in order.
func (g *ExecutionGroup) DeviceIDs() []string {
	ids := make([]string, len(g.Operations))
	for i, op := range g.Operations {
		ids[i] = op.DeviceID
	}
	return ids
}

// RollbackKind distinguishes diff-derived rollbacks from snapshots.
type RollbackKind string

const (
	RollbackFromDiff     RollbackKind = "diff"
	RollbackFromSnapshot RollbackKind = "snapshot"
)

// RollbackConfig is a stored compensating command set for one deployment.
type RollbackConfig struct {
	DeploymentID     string              `json:"deployment_id" yaml:"deployment_id"`
	OriginalConfigID string              `json:"original_config_id" yaml:"original_config_id"`
	Kind             RollbackKind        `json:"kind" yaml:"kind"`
	Commands         []string            `json:"commands" yaml:"commands"`
	DeviceCommands   map[string][]string `json:"device_commands,omitempty" yaml:"device_commands,omitempty"`
	CreatedAt        time.Time           `json:"created_at" yaml:"created_at"`
	Metadata         map[string]string   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// SnapshotSuffix marks the store key of a snapshot rollback.
const SnapshotSuffix = ":snapshot"

// Key returns the store key. Snapshots share the deployment id but never
// overwrite the diff-derived rollback.
func (r *RollbackConfig) Key() string {
	if r.Kind == RollbackFromSnapshot {
		return r.DeploymentID + SnapshotSuffix
	}
	return r.DeploymentID
}

// ValidationType is the phase a validation step runs in.
type ValidationType string

const (
	ValidationPre    ValidationType = "pre"
	ValidationDuring ValidationType = "during"
	ValidationPost   ValidationType = "post"
)

// Severity of a validation rule.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationStep is a rule selected for one plan.
type ValidationStep struct {
	ID          string         `json:"step_id" yaml:"step_id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Type        ValidationType `json:"validation_type" yaml:"validation_type"`
	Severity    Severity       `json:"severity" yaml:"severity"`
	Required    bool           `json:"required" yaml:"required"`
}

// DeploymentPlan is the executable form of a diff.
type DeploymentPlan struct {
	DeploymentID      string           `json:"deployment_id" yaml:"deployment_id"`
	OriginalConfigID  string           `json:"original_config_id,omitempty" yaml:"original_config_id,omitempty"`
	Strategy          Strategy         `json:"strategy" yaml:"strategy"`
	Groups            []ExecutionGroup `json:"groups" yaml:"groups"`
	Rollback          *RollbackConfig  `json:"rollback_config" yaml:"rollback_config"`
	EstimatedDuration int              `json:"estimated_duration" yaml:"estimated_duration"`
	RiskLevel         RiskLevel        `json:"risk_level" yaml:"risk_level"`
	ValidationSteps   []ValidationStep `json:"validation_steps" yaml:"validation_steps"`
	Diff              *DeploymentDiff  `json:"diff,omitempty" yaml:"diff,omitempty"`
	CreatedAt         time.Time        `json:"created_at" yaml:"created_at"`

	// CurrentConfig is the configuration the diff was computed from. It
	// feeds validation and is not serialized.
	CurrentConfig *ConfigSet `json:"-" yaml:"-"`
}

// Group returns the group with the given id, or nil.
func (p *DeploymentPlan) Group(id string) *ExecutionGroup {
	for i := range p.Groups {
		if p.Groups[i].ID == id {
			return &p.Groups[i]
		}
	}
	return nil
}

// StepsOfType filters validation steps by phase.
func (p *DeploymentPlan) StepsOfType(t ValidationType) []ValidationStep {
	var out []ValidationStep
	for _, s := range p.ValidationSteps {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// DeploymentResult is the structured outcome of one execution.
type DeploymentResult struct {
	DeploymentID      string        `json:"deployment_id" yaml:"deployment_id"`
	Success           bool          `json:"success" yaml:"success"`
	DeployedDevices   []string      `json:"deployed_devices" yaml:"deployed_devices"`
	FailedDevices     []string      `json:"failed_devices" yaml:"failed_devices"`
	Logs              []string      `json:"logs" yaml:"logs"`
	Errors            []string      `json:"errors" yaml:"errors"`
	Warnings          []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
	RollbackAvailable bool          `json:"rollback_available" yaml:"rollback_available"`
	ErrorMessage      string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// CommandLog records one replayed command.
type CommandLog struct {
	DeviceID string `json:"device_id" yaml:"device_id"`
	Command  string `json:"command" yaml:"command"`
	OK       bool   `json:"ok" yaml:"ok"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}
