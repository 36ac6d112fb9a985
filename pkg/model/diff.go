package model

// ChangeType classifies a device or VLAN change.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeRemove ChangeType = "remove"
)

// RiskLevel is the coarse blast-radius classification of a diff.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RollbackComplexity estimates how hard a diff is to undo.
type RollbackComplexity string

const (
	ComplexityNone   RollbackComplexity = "none"
	ComplexityLow    RollbackComplexity = "low"
	ComplexityMedium RollbackComplexity = "medium"
	ComplexityHigh   RollbackComplexity = "high"
)

// VlanConfig is the structured view of one VLAN on one side of a diff.
type VlanConfig struct {
	VlanID   int      `json:"vlan_id" yaml:"vlan_id"`
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	Devices  []string `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// VlanChange describes a VLAN that was added, removed, or modified.
type VlanChange struct {
	VlanID          int         `json:"vlan_id" yaml:"vlan_id"`
	ChangeType      ChangeType  `json:"change_type" yaml:"change_type"`
	AffectedDevices []string    `json:"affected_devices" yaml:"affected_devices"`
	OldConfig       *VlanConfig `json:"old_config,omitempty" yaml:"old_config,omitempty"`
	NewConfig       *VlanConfig `json:"new_config,omitempty" yaml:"new_config,omitempty"`
}

// DeviceChange is one device's classified change. Produced by the diff
// engine and never mutated afterwards.
type DeviceChange struct {
	DeviceID           string       `json:"device_id" yaml:"device_id"`
	ChangeType         ChangeType   `json:"change_type" yaml:"change_type"`
	OldCommands        []string     `json:"old_commands,omitempty" yaml:"old_commands,omitempty"`
	NewCommands        []string     `json:"new_commands,omitempty" yaml:"new_commands,omitempty"`
	AffectedInterfaces []string     `json:"affected_interfaces,omitempty" yaml:"affected_interfaces,omitempty"`
	VlanChanges        []VlanChange `json:"vlan_changes,omitempty" yaml:"vlan_changes,omitempty"`
}

// AddedVLANs returns the IDs of VLANs this change introduces.
func (c *DeviceChange) AddedVLANs() []int {
	var ids []int
	for _, vc := range c.VlanChanges {
		if vc.ChangeType == ChangeAdd {
			ids = append(ids, vc.VlanID)
		}
	}
	return ids
}

// ImpactAssessment scores the blast radius of a diff.
type ImpactAssessment struct {
	AffectedDevices    int                `json:"affected_devices" yaml:"affected_devices"`
	EstimatedDuration  int                `json:"estimated_duration" yaml:"estimated_duration"` // seconds
	RiskLevel          RiskLevel          `json:"risk_level" yaml:"risk_level"`
	RiskScore          int                `json:"risk_score" yaml:"risk_score"`
	PotentialConflicts []string           `json:"potential_conflicts,omitempty" yaml:"potential_conflicts,omitempty"`
	RollbackComplexity RollbackComplexity `json:"rollback_complexity" yaml:"rollback_complexity"`
}

// DeploymentDiff is the full result of one diff call. Read-only downstream.
type DeploymentDiff struct {
	DevicesToAdd     []DeviceChange   `json:"devices_to_add" yaml:"devices_to_add"`
	DevicesToModify  []DeviceChange   `json:"devices_to_modify" yaml:"devices_to_modify"`
	DevicesToRemove  []DeviceChange   `json:"devices_to_remove" yaml:"devices_to_remove"`
	UnchangedDevices []string         `json:"unchanged_devices" yaml:"unchanged_devices"`
	VlanChanges      []VlanChange     `json:"vlan_changes" yaml:"vlan_changes"`
	Impact           ImpactAssessment `json:"impact" yaml:"impact"`
}

// TotalChanges returns the number of changed devices.
func (d *DeploymentDiff) TotalChanges() int {
	return len(d.DevicesToAdd) + len(d.DevicesToModify) + len(d.DevicesToRemove)
}

// IsEmpty returns true if nothing changed.
func (d *DeploymentDiff) IsEmpty() bool {
	return d.TotalChanges() == 0 && len(d.VlanChanges) == 0
}

// AllChanges returns adds, modifies, then removes.
func (d *DeploymentDiff) AllChanges() []DeviceChange {
	all := make([]DeviceChange, 0, d.TotalChanges())
	all = append(all, d.DevicesToAdd...)
	all = append(all, d.DevicesToModify...)
	all = append(all, d.DevicesToRemove...)
	return all
}

// Change returns the change for a device, or nil if the device is unchanged
// or unknown.
func (d *DeploymentDiff) Change(deviceID string) *DeviceChange {
	for _, list := range [][]DeviceChange{d.DevicesToAdd, d.DevicesToModify, d.DevicesToRemove} {
		for i := range list {
			if list[i].DeviceID == deviceID {
				return &list[i]
			}
		}
	}
	return nil
}
