package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Group ids of an aggressive plan.
const (
	GroupAdd    = "add"
	GroupModify = "modify"
	GroupRemove = "remove"
)

// GeneratePlan builds the execution DAG for d, prepares and stores its
// rollback, and selects its validation steps.
//
// Aggressive plans, the default, always have the three groups add, modify and
// remove, each parallel and possibly empty, with remove depending on the other
// two. Conservative plans get one sequential group per add or modify, each
// depending on the one before, then a parallel remove group depending on the
// whole chain when there is anything to remove.
func (o *Orchestrator) GeneratePlan(ctx context.Context, d *model.DeploymentDiff, strategy model.Strategy, configID string) (*model.DeploymentPlan, error) {
	if d == nil {
		return nil, errors.New("generate plan: nil diff")
	}
	if strategy == "" {
		strategy = model.StrategyAggressive
	}

	var groups []model.ExecutionGroup
	switch strategy {
	case model.StrategyAggressive:
		groups = o.aggressiveGroups(d)
	case model.StrategyConservative:
		groups = o.conservativeGroups(d)
	default:
		return nil, util.NewMalformedInputError("strategy", fmt.Sprintf("unknown strategy %q", strategy))
	}

	plan := &model.DeploymentPlan{
		DeploymentID:     o.newID(),
		OriginalConfigID: configID,
		Strategy:         strategy,
		Groups:           groups,
		RiskLevel:        d.Impact.RiskLevel,
		ValidationSteps:  o.Validation.DefineSteps(d),
		Diff:             d,
		CreatedAt:        time.Now(),
	}
	for _, g := range groups {
		plan.EstimatedDuration += g.EstimatedDuration
	}

	rc, err := o.Rollback.PrepareRollback(plan.DeploymentID, d, configID)
	if err != nil {
		return nil, fmt.Errorf("preparing rollback: %w", err)
	}
	if err := o.Rollback.Store(ctx, rc); err != nil {
		return nil, fmt.Errorf("storing rollback: %w", err)
	}
	plan.Rollback = rc

	util.WithDeployment(plan.DeploymentID).Infof("planned %s deployment: %d groups, %d changes, risk %s",
		strategy, len(groups), d.TotalChanges(), plan.RiskLevel)
	return plan, nil
}

func operations(changes []model.DeviceChange) []model.Operation {
	ops := make([]model.Operation, 0, len(changes))
	for _, c := range changes {
		ops = append(ops, model.Operation{Type: c.ChangeType, DeviceID: c.DeviceID})
	}
	return ops
}

func (o *Orchestrator) aggressiveGroups(d *model.DeploymentDiff) []model.ExecutionGroup {
	w := o.Engine.Weights
	return []model.ExecutionGroup{
		{
			ID:                GroupAdd,
			Operations:        operations(d.DevicesToAdd),
			Dependencies:      []string{},
			EstimatedDuration: w.Add * len(d.DevicesToAdd),
			CanParallel:       true,
		},
		{
			ID:                GroupModify,
			Operations:        operations(d.DevicesToModify),
			Dependencies:      []string{},
			EstimatedDuration: w.Modify * len(d.DevicesToModify),
			CanParallel:       true,
		},
		{
			ID:                GroupRemove,
			Operations:        operations(d.DevicesToRemove),
			Dependencies:      []string{GroupAdd, GroupModify},
			EstimatedDuration: w.Remove * len(d.DevicesToRemove),
			CanParallel:       true,
		},
	}
}

func (o *Orchestrator) conservativeGroups(d *model.DeploymentDiff) []model.ExecutionGroup {
	w := o.Engine.Weights
	var groups []model.ExecutionGroup
	var chain []string

	step := func(c model.DeviceChange, weight int) {
		g := model.ExecutionGroup{
			ID:                fmt.Sprintf("%s-%s", c.ChangeType, c.DeviceID),
			Operations:        []model.Operation{{Type: c.ChangeType, DeviceID: c.DeviceID}},
			Dependencies:      []string{},
			EstimatedDuration: weight,
		}
		if len(chain) > 0 {
			g.Dependencies = []string{chain[len(chain)-1]}
		}
		groups = append(groups, g)
		chain = append(chain, g.ID)
	}
	for _, c := range d.DevicesToAdd {
		step(c, w.Add)
	}
	for _, c := range d.DevicesToModify {
		step(c, w.Modify)
	}

	if len(d.DevicesToRemove) > 0 {
		groups = append(groups, model.ExecutionGroup{
			ID:                GroupRemove,
			Operations:        operations(d.DevicesToRemove),
			Dependencies:      append([]string{}, chain...),
			EstimatedDuration: w.Remove * len(d.DevicesToRemove),
			CanParallel:       true,
		})
	}
	return groups
}

// order returns the groups in a dependency-respecting order. A group becomes
// eligible once every group it depends on has been placed.
func order(groups []model.ExecutionGroup) ([]model.ExecutionGroup, error) {
	placed := make(map[string]bool, len(groups))
	pending := append([]model.ExecutionGroup(nil), groups...)
	out := make([]model.ExecutionGroup, 0, len(groups))

	for len(pending) > 0 {
		progressed := false
		for i := 0; i < len(pending); i++ {
			g := pending[i]
			ready := true
			for _, dep := range g.Dependencies {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			out = append(out, g)
			placed[g.ID] = true
			pending = append(pending[:i], pending[i+1:]...)
			i--
			progressed = true
		}
		if !progressed {
			ids := make([]string, len(pending))
			for i, g := range pending {
				ids[i] = g.ID
			}
			return nil, fmt.Errorf("groups %v have unsatisfiable dependencies", ids)
		}
	}
	return out, nil
}
