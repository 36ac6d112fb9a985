package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/diff"
	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/push"
	"github.com/newtron-network/newtdeploy/pkg/util"
	"github.com/newtron-network/newtdeploy/pkg/validation"
)

// Execute runs plan against the fleet. Validation sees plan.CurrentConfig
// when it is set.
//
// Required pre-validation failures abort before any device is touched. Groups
// then run in dependency order. Within a group every device passes check
// before any is committed, and every commit finishes before verify begins. A
// stage failure stops the plan once the stage barrier is reached; devices
// already committed stay committed and the result reports a rollback is
// available. A connection failure only excludes that device. Post-validation
// failures are reported as warnings.
//
// Cancelling ctx stops new stages and groups from being scheduled; a stage
// already sending to devices runs to completion.
func (o *Orchestrator) Execute(ctx context.Context, plan *model.DeploymentPlan, newConfig *model.ConfigSet) (*model.DeploymentResult, error) {
	if plan == nil || plan.Diff == nil {
		return nil, errors.New("execute: plan has no diff")
	}
	if o.Executor == nil {
		return nil, errors.New("execute: no push executor configured")
	}
	groups, err := order(plan.Groups)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", plan.DeploymentID, err)
	}

	start := time.Now()
	x := &execution{
		o:    o,
		plan: plan,
		t:    o.track(plan.DeploymentID),
		vctx: &validation.Context{
			DeploymentID:    plan.DeploymentID,
			Diff:            plan.Diff,
			CurrentConfig:   plan.CurrentConfig,
			NewConfig:       newConfig,
			UserPreferences: o.Preferences,
		},
		deployed:  newIDSet(),
		failed:    newIDSet(),
		committed: newIDSet(),
	}
	if newConfig != nil {
		x.target = newConfig.ServiceName
	}

	x.run(ctx, groups)
	return x.result(time.Since(start)), nil
}

// deviceRun is one device's progress through a group.
type deviceRun struct {
	req     push.Request
	machine *push.Machine
	res     *push.StageResult
	err     error
}

type execution struct {
	o      *Orchestrator
	plan   *model.DeploymentPlan
	t      *tracker
	pool   *pool
	vctx   *validation.Context
	target string

	deployed  *idSet
	failed    *idSet
	committed *idSet

	errors   []string
	warnings []string

	aborted       bool
	stopped       bool
	commitStarted bool
}

func (x *execution) run(ctx context.Context, groups []model.ExecutionGroup) {
	x.t.stage("pre_validation", 0)
	if !x.preValidate() {
		x.aborted = true
		x.t.finish(model.StatusAborted)
		return
	}

	largest := 0
	for _, g := range groups {
		if n := len(g.Operations); n > largest {
			largest = n
		}
	}
	x.pool = newPool(largest)
	defer x.pool.close()

	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			x.stop("deployment cancelled before group %s: %v", g.ID, err)
			break
		}
		ok := x.runGroup(ctx, g, i, len(groups))
		x.validate(model.ValidationDuring, "group "+g.ID)
		if !ok {
			x.stopped = true
			for _, rest := range groups[i+1:] {
				x.t.logf("group %s skipped", rest.ID)
			}
			break
		}
	}

	x.t.stage("post_validation", 1)
	x.validate(model.ValidationPost, "deployment")

	if x.success() {
		x.t.finish(model.StatusCompleted)
	} else {
		x.t.finish(model.StatusFailed)
	}
}

func (x *execution) preValidate() bool {
	var fatal []string
	for _, r := range x.o.Validation.ExecuteAll(x.plan.ValidationSteps, model.ValidationPre, x.vctx) {
		if r.Passed {
			continue
		}
		msg := fmt.Sprintf("%s: %s", r.StepID, r.Message)
		if r.Fatal() {
			fatal = append(fatal, msg)
			continue
		}
		x.warnings = append(x.warnings, msg)
		x.t.logf("pre-validation warning %s", msg)
	}
	if len(fatal) == 0 {
		x.t.logf("pre-validation passed")
		return true
	}

	x.errors = append(x.errors, fatal...)
	for _, m := range fatal {
		x.t.errorf("pre-validation failed %s", m)
	}
	x.t.logf("deployment aborted: no device was touched")
	return false
}

// validate runs the during or post steps; their failures never stop the
// deployment.
func (x *execution) validate(t model.ValidationType, scope string) {
	x.vctx.Deployed = x.deployed.sorted()
	x.vctx.Failed = x.failed.sorted()
	x.vctx.Committed = x.committed.sorted()
	x.vctx.RollbackAvailable = x.plan.Rollback != nil

	for _, r := range x.o.Validation.ExecuteAll(x.plan.ValidationSteps, t, x.vctx) {
		if r.Passed {
			continue
		}
		msg := fmt.Sprintf("%s: %s", r.StepID, r.Message)
		x.warnings = append(x.warnings, msg)
		x.t.logf("%s validation after %s: %s", t, scope, msg)
	}
}

func (x *execution) requests(g model.ExecutionGroup) []*deviceRun {
	var runs []*deviceRun
	for _, op := range g.Operations {
		c := x.plan.Diff.Change(op.DeviceID)
		if c == nil {
			x.deviceFailed(op.DeviceID, nil, fmt.Errorf("device %s in group %s has no change in the diff", op.DeviceID, g.ID))
			continue
		}

		req := push.Request{Device: op.DeviceID, VerifyTarget: x.target}
		if op.Type == model.ChangeRemove {
			old := diff.Parse(c.OldCommands)
			req.Commands = diff.TeardownCommands(old.VLANIDs(), old.InterfaceNames())
			req.Removal = true
		} else {
			req.Commands = c.NewCommands
		}
		runs = append(runs, &deviceRun{req: req, machine: push.NewMachine(op.DeviceID)})
	}
	return runs
}

// runGroup reports whether the plan may continue past g.
func (x *execution) runGroup(ctx context.Context, g model.ExecutionGroup, index, total int) bool {
	runs := x.requests(g)
	if len(runs) == 0 {
		x.t.logf("group %s: no operations", g.ID)
		return true
	}
	x.t.logf("group %s: %d devices (%s)", g.ID, len(runs), strings.Join(g.DeviceIDs(), ", "))

	// In-flight sends are never interrupted by cancellation.
	sendCtx := context.WithoutCancel(ctx)
	progress := func(stage int) float64 {
		return (float64(index) + float64(stage)/3) / float64(total)
	}
	exec := x.o.Executor

	// Check every device.
	x.t.stage(g.ID+":"+string(push.StageCheck), progress(0))
	x.pool.stage(len(runs), g.CanParallel, func(i int) {
		r := runs[i]
		r.res, r.err = exec.Check(sendCtx, r.req.Device, r.req.Commands)
		x.report(r, push.StageCheck)
	})

	var pending []*deviceRun
	checkFailed := false
	for _, r := range runs {
		if r.err != nil && !isConnection(r.err) {
			checkFailed = true
		}
	}
	for _, r := range runs {
		switch {
		case r.err != nil:
			x.deviceFailed(r.req.Device, r.machine, r.err)
		case checkFailed:
			r.machine.Fail("check failed elsewhere in group")
		case r.res.Outcome == push.OutcomeNoOp:
			r.machine.MarkNoOp()
			_ = r.machine.To(push.StateDone, "no changes at check")
			x.deployed.add(r.req.Device)
			x.t.logf("%s: no changes needed", r.req.Device)
		default:
			pending = append(pending, r)
		}
	}
	if checkFailed {
		x.t.errorf("check failed in group %s; no device was committed", g.ID)
		return false
	}
	if len(pending) == 0 {
		x.t.logf("group %s: nothing to commit; skipping commit and verify", g.ID)
		return true
	}
	if err := ctx.Err(); err != nil {
		x.stop("deployment cancelled before commit of group %s: %v", g.ID, err)
		return false
	}

	// Commit every device that passed check.
	x.commitStarted = true
	x.t.stage(g.ID+":"+string(push.StageCommit), progress(1))
	x.pool.stage(len(pending), g.CanParallel, func(i int) {
		r := pending[i]
		if r.err = r.machine.To(push.StateCommitting, ""); r.err != nil {
			return
		}
		r.res, r.err = exec.Commit(sendCtx, r.req.Device, r.req.Commands)
		x.report(r, push.StageCommit)
	})

	var verify []*deviceRun
	commitFailed := false
	for _, r := range pending {
		switch {
		case r.err != nil:
			x.deviceFailed(r.req.Device, r.machine, r.err)
			if !isConnection(r.err) {
				commitFailed = true
			}
		case r.res.Outcome == push.OutcomeNoOp:
			r.machine.MarkNoOp()
			_ = r.machine.To(push.StateDone, "no changes at commit")
			x.deployed.add(r.req.Device)
		default:
			x.committed.add(r.req.Device)
			verify = append(verify, r)
		}
	}
	if commitFailed {
		// Committed devices stay committed.
		for _, r := range verify {
			x.deployed.add(r.req.Device)
		}
		x.t.errorf("commit failed in group %s; %d device(s) remain committed, rollback %s is available",
			g.ID, len(verify), x.plan.DeploymentID)
		return false
	}
	if len(verify) == 0 {
		return true
	}
	if err := ctx.Err(); err != nil {
		for _, r := range verify {
			x.deployed.add(r.req.Device)
		}
		x.stop("deployment cancelled before verify of group %s: %v", g.ID, err)
		return false
	}

	// Verify every committed device.
	x.t.stage(g.ID+":"+string(push.StageVerify), progress(2))
	x.pool.stage(len(verify), g.CanParallel, func(i int) {
		r := verify[i]
		if r.err = r.machine.To(push.StateVerifying, ""); r.err != nil {
			return
		}
		r.res, r.err = exec.Verify(sendCtx, r.req.Device, r.req.VerifyTarget, r.req.Removal)
		if r.err == nil {
			r.err = r.machine.To(push.StateDone, string(r.res.Outcome))
		}
		x.report(r, push.StageVerify)
	})

	ok := true
	for _, r := range verify {
		if r.err != nil {
			x.deviceFailed(r.req.Device, r.machine, r.err)
			if !isConnection(r.err) {
				ok = false
			}
			continue
		}
		x.deployed.add(r.req.Device)
	}
	if !ok {
		x.t.errorf("verify failed in group %s", g.ID)
		return false
	}
	x.t.logf("group %s complete", g.ID)
	return true
}

// report records a device's latest stage outcome in the status record.
func (x *execution) report(r *deviceRun, stage push.Stage) {
	res := model.DeviceResult{
		DeviceID: r.req.Device,
		Stage:    string(stage),
		State:    string(r.machine.State()),
		NoOp:     r.err == nil && r.res != nil && r.res.Outcome == push.OutcomeNoOp,
	}
	switch {
	case r.err != nil:
		res.Message = r.err.Error()
	case r.res != nil:
		res.Message = string(r.res.Outcome)
	}
	x.t.device(res)
	util.WithStage(r.req.Device, string(stage)).Debugf("%s", res.Message)
}

func (x *execution) deviceFailed(device string, m *push.Machine, err error) {
	if m != nil {
		m.Fail(err.Error())
	}
	x.failed.add(device)
	x.errors = append(x.errors, err.Error())
	x.t.errorf("%v", err)
	x.t.device(model.DeviceResult{DeviceID: device, State: string(push.StateFailed), Message: err.Error()})
}

func (x *execution) stop(format string, args ...interface{}) {
	x.stopped = true
	msg := fmt.Sprintf(format, args...)
	x.errors = append(x.errors, msg)
	x.t.errorf("%s", msg)
}

func (x *execution) success() bool {
	return !x.aborted && !x.stopped && x.failed.len() == 0
}

func (x *execution) result(elapsed time.Duration) *model.DeploymentResult {
	res := &model.DeploymentResult{
		DeploymentID:      x.plan.DeploymentID,
		Success:           x.success(),
		DeployedDevices:   x.deployed.sorted(),
		FailedDevices:     x.failed.sorted(),
		Logs:              x.t.logs(),
		Errors:            append([]string{}, x.errors...),
		Warnings:          x.warnings,
		Duration:          elapsed,
		RollbackAvailable: x.commitStarted,
	}
	if !res.Success && len(res.Errors) > 0 {
		if x.aborted {
			res.ErrorMessage = util.NewValidationError(res.Errors...).Error()
		} else {
			res.ErrorMessage = res.Errors[0]
		}
	}
	return res
}

func isConnection(err error) bool {
	return errors.Is(err, util.ErrConnectionFailed)
}

// idSet is an insertion-safe set of device ids. It is only touched from the
// deployment goroutine.
type idSet struct {
	m map[string]bool
}

func newIDSet() *idSet { return &idSet{m: make(map[string]bool)} }

func (s *idSet) add(id string) { s.m[id] = true }

func (s *idSet) len() int { return len(s.m) }

func (s *idSet) sorted() []string {
	out := make([]string, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
