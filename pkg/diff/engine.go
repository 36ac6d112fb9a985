package diff

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Weights are the per-change duration estimates, in seconds.
type Weights struct {
	Add    int
	Modify int
	Remove int
}

// DefaultWeights weigh modifications heaviest; they carry the most
// validation work on the device.
var DefaultWeights = Weights{Add: 30, Modify: 45, Remove: 20}

// Engine computes DeploymentDiffs.
type Engine struct {
	Weights Weights
}

// NewEngine returns an Engine with the default duration weights.
func NewEngine() *Engine {
	return &Engine{Weights: DefaultWeights}
}

// ComputeRaw decodes two configuration mappings and diffs them.
func (e *Engine) ComputeRaw(current, desired map[string]any) (*model.DeploymentDiff, error) {
	cur, err := model.ParseConfigSet(current)
	if err != nil {
		return nil, err
	}
	next, err := model.ParseConfigSet(desired)
	if err != nil {
		return nil, err
	}
	return e.Compute(cur, next)
}

// Compute classifies every device in current and desired as added, removed,
// modified, or unchanged, and scores the result.
func (e *Engine) Compute(current, desired *model.ConfigSet) (*model.DeploymentDiff, error) {
	if current == nil {
		current = model.NewConfigSet()
	}
	if desired == nil {
		desired = model.NewConfigSet()
	}

	d := &model.DeploymentDiff{
		DevicesToAdd:     []model.DeviceChange{},
		DevicesToModify:  []model.DeviceChange{},
		DevicesToRemove:  []model.DeviceChange{},
		UnchangedDevices: []string{},
		VlanChanges:      []model.VlanChange{},
	}

	oldParsed := make(map[string]*DeviceConfig, len(current.Devices))
	for _, id := range current.DeviceIDs() {
		oldParsed[id] = Parse(current.Commands(id))
	}
	newParsed := make(map[string]*DeviceConfig, len(desired.Devices))
	for _, id := range desired.DeviceIDs() {
		newParsed[id] = Parse(desired.Commands(id))
	}

	for _, id := range unionIDs(current, desired) {
		oldCfg, inOld := oldParsed[id]
		newCfg, inNew := newParsed[id]

		switch {
		case inNew && !inOld:
			d.DevicesToAdd = append(d.DevicesToAdd, model.DeviceChange{
				DeviceID:           id,
				ChangeType:         model.ChangeAdd,
				NewCommands:        newCfg.Commands,
				AffectedInterfaces: newCfg.InterfaceNames(),
				VlanChanges:        deviceVLANChanges(id, nil, newCfg),
			})
		case inOld && !inNew:
			d.DevicesToRemove = append(d.DevicesToRemove, model.DeviceChange{
				DeviceID:           id,
				ChangeType:         model.ChangeRemove,
				OldCommands:        oldCfg.Commands,
				AffectedInterfaces: oldCfg.InterfaceNames(),
				VlanChanges:        deviceVLANChanges(id, oldCfg, nil),
			})
		case oldCfg.Equal(newCfg):
			d.UnchangedDevices = append(d.UnchangedDevices, id)
		default:
			d.DevicesToModify = append(d.DevicesToModify, model.DeviceChange{
				DeviceID:           id,
				ChangeType:         model.ChangeModify,
				OldCommands:        oldCfg.Commands,
				NewCommands:        newCfg.Commands,
				AffectedInterfaces: affectedInterfaces(oldCfg, newCfg),
				VlanChanges:        deviceVLANChanges(id, oldCfg, newCfg),
			})
		}
	}

	d.VlanChanges = globalVLANChanges(oldParsed, newParsed)
	d.Impact = e.assess(d)

	util.Logger.WithFields(logrus.Fields{
		"add":    len(d.DevicesToAdd),
		"modify": len(d.DevicesToModify),
		"remove": len(d.DevicesToRemove),
		"vlans":  len(d.VlanChanges),
	}).Debugf("diff computed, risk %s", d.Impact.RiskLevel)

	return d, nil
}

// affectedInterfaces returns interfaces present on only one side plus those
// whose content changed.
func affectedInterfaces(oldCfg, newCfg *DeviceConfig) []string {
	seen := make(map[string]bool)
	for name, intf := range oldCfg.Interfaces {
		other, ok := newCfg.Interfaces[name]
		if !ok || !intf.equal(other) {
			seen[name] = true
		}
	}
	for name := range newCfg.Interfaces {
		if _, ok := oldCfg.Interfaces[name]; !ok {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// deviceVLANChanges compares the declared VLANs of one device. A nil side is
// treated as having no VLANs.
func deviceVLANChanges(deviceID string, oldCfg, newCfg *DeviceConfig) []model.VlanChange {
	oldV := map[int]*VLANBlock{}
	newV := map[int]*VLANBlock{}
	if oldCfg != nil {
		oldV = oldCfg.VLANs
	}
	if newCfg != nil {
		newV = newCfg.VLANs
	}

	ids := make(map[int]bool)
	for id := range oldV {
		ids[id] = true
	}
	for id := range newV {
		ids[id] = true
	}

	var changes []model.VlanChange
	for _, id := range sortedKeys(ids) {
		o, inOld := oldV[id]
		n, inNew := newV[id]
		vc := model.VlanChange{VlanID: id, AffectedDevices: []string{deviceID}}
		switch {
		case inNew && !inOld:
			vc.ChangeType = model.ChangeAdd
			vc.NewConfig = vlanConfig(id, n.Commands, deviceID)
		case inOld && !inNew:
			vc.ChangeType = model.ChangeRemove
			vc.OldConfig = vlanConfig(id, o.Commands, deviceID)
		case !equalStrings(o.Commands, n.Commands):
			vc.ChangeType = model.ChangeModify
			vc.OldConfig = vlanConfig(id, o.Commands, deviceID)
			vc.NewConfig = vlanConfig(id, n.Commands, deviceID)
		default:
			continue
		}
		changes = append(changes, vc)
	}
	return changes
}

// fleetVLAN is one VLAN flattened across every device that declares it.
type fleetVLAN struct {
	commands []string
	devices  []string
}

func flatten(parsed map[string]*DeviceConfig) map[int]*fleetVLAN {
	out := make(map[int]*fleetVLAN)
	ids := make([]string, 0, len(parsed))
	for id := range parsed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, dev := range ids {
		for _, vid := range parsed[dev].VLANIDs() {
			fv := out[vid]
			if fv == nil {
				fv = &fleetVLAN{commands: parsed[dev].VLANs[vid].Commands}
				out[vid] = fv
			}
			fv.devices = append(fv.devices, dev)
		}
	}
	return out
}

// globalVLANChanges diffs the fleet-wide VLAN view.
func globalVLANChanges(oldParsed, newParsed map[string]*DeviceConfig) []model.VlanChange {
	oldV := flatten(oldParsed)
	newV := flatten(newParsed)

	ids := make(map[int]bool)
	for id := range oldV {
		ids[id] = true
	}
	for id := range newV {
		ids[id] = true
	}

	changes := []model.VlanChange{}
	for _, id := range sortedKeys(ids) {
		o, inOld := oldV[id]
		n, inNew := newV[id]
		var vc model.VlanChange
		switch {
		case inNew && !inOld:
			vc = model.VlanChange{VlanID: id, ChangeType: model.ChangeAdd, AffectedDevices: n.devices,
				NewConfig: vlanConfig(id, n.commands, n.devices...)}
		case inOld && !inNew:
			vc = model.VlanChange{VlanID: id, ChangeType: model.ChangeRemove, AffectedDevices: o.devices,
				OldConfig: vlanConfig(id, o.commands, o.devices...)}
		case !equalStrings(o.commands, n.commands) || !equalStrings(o.devices, n.devices):
			vc = model.VlanChange{VlanID: id, ChangeType: model.ChangeModify, AffectedDevices: unionStrings(o.devices, n.devices),
				OldConfig: vlanConfig(id, o.commands, o.devices...),
				NewConfig: vlanConfig(id, n.commands, n.devices...)}
		default:
			continue
		}
		changes = append(changes, vc)
	}
	return changes
}

func vlanConfig(id int, commands []string, devices ...string) *model.VlanConfig {
	return &model.VlanConfig{
		VlanID:   id,
		Commands: append([]string(nil), commands...),
		Devices:  append([]string(nil), devices...),
	}
}

func unionIDs(a, b *model.ConfigSet) []string {
	seen := make(map[string]bool, len(a.Devices)+len(b.Devices))
	for id := range a.Devices {
		seen[id] = true
	}
	for id := range b.Devices {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
