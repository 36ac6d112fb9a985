package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newtron-network/newtdeploy/pkg/model"
)

// Risk score thresholds.
const (
	highRiskScore   = 5
	mediumRiskScore = 3
)

func (e *Engine) assess(d *model.DeploymentDiff) model.ImpactAssessment {
	w := e.Weights
	if w == (Weights{}) {
		w = DefaultWeights
	}

	score := RiskScore(d.TotalChanges(), len(d.VlanChanges) > 0)
	return model.ImpactAssessment{
		AffectedDevices: d.TotalChanges(),
		EstimatedDuration: w.Add*len(d.DevicesToAdd) +
			w.Modify*len(d.DevicesToModify) +
			w.Remove*len(d.DevicesToRemove),
		RiskScore:          score,
		RiskLevel:          RiskLevelFor(score),
		PotentialConflicts: conflicts(d),
		RollbackComplexity: ComplexityFor(d.TotalChanges()),
	}
}

// RiskScore scores blast radius from the changed-device count and whether
// any VLAN changes. It never decreases as either input grows.
func RiskScore(changedDevices int, vlanChanges bool) int {
	score := 0
	switch {
	case changedDevices > 10:
		score += 3
	case changedDevices > 5:
		score += 2
	case changedDevices > 1:
		score++
	}
	if vlanChanges {
		score += 2
	}
	return score
}

// RiskLevelFor maps a risk score to its level.
func RiskLevelFor(score int) model.RiskLevel {
	switch {
	case score >= highRiskScore:
		return model.RiskHigh
	case score >= mediumRiskScore:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// ComplexityFor buckets the total change count.
func ComplexityFor(changes int) model.RollbackComplexity {
	switch {
	case changes == 0:
		return model.ComplexityNone
	case changes <= 3:
		return model.ComplexityLow
	case changes <= 8:
		return model.ComplexityMedium
	default:
		return model.ComplexityHigh
	}
}

// conflicts flags VLANs and interfaces touched on more than one changed
// device, and removals scheduled alongside adds or modifies.
func conflicts(d *model.DeploymentDiff) []string {
	vlanDevices := make(map[int][]string)
	intfDevices := make(map[string][]string)

	for _, c := range d.AllChanges() {
		for _, vc := range c.VlanChanges {
			vlanDevices[vc.VlanID] = appendUnique(vlanDevices[vc.VlanID], c.DeviceID)
		}
		for _, name := range c.AffectedInterfaces {
			intfDevices[name] = appendUnique(intfDevices[name], c.DeviceID)
		}
	}

	var out []string

	vids := make([]int, 0, len(vlanDevices))
	for id := range vlanDevices {
		vids = append(vids, id)
	}
	sort.Ints(vids)
	for _, id := range vids {
		if devs := vlanDevices[id]; len(devs) > 1 {
			sort.Strings(devs)
			out = append(out, fmt.Sprintf("VLAN %d changed on multiple devices: %s", id, strings.Join(devs, ", ")))
		}
	}

	names := make([]string, 0, len(intfDevices))
	for n := range intfDevices {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if devs := intfDevices[n]; len(devs) > 1 {
			sort.Strings(devs)
			out = append(out, fmt.Sprintf("interface %s changed on multiple devices: %s", n, strings.Join(devs, ", ")))
		}
	}

	if len(d.DevicesToRemove) > 0 && len(d.DevicesToAdd)+len(d.DevicesToModify) > 0 {
		out = append(out, fmt.Sprintf("%d device removal(s) scheduled alongside %d add/modify change(s)",
			len(d.DevicesToRemove), len(d.DevicesToAdd)+len(d.DevicesToModify)))
	}

	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
