// Package validation selects and runs the pre, during, and post deployment
// checks derived from a diff.
package validation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Context is the input to every check.
type Context struct {
	DeploymentID    string
	Diff            *model.DeploymentDiff
	CurrentConfig   *model.ConfigSet
	NewConfig       *model.ConfigSet
	UserPreferences map[string]string

	// Execution state, filled in by the orchestrator for during and post
	// steps.
	Deployed          []string
	Failed            []string
	Committed         []string
	RollbackAvailable bool
}

// StepResult is the recorded outcome of one executed step.
type StepResult struct {
	StepID    string               `json:"step_id"`
	Name      string               `json:"name"`
	Type      model.ValidationType `json:"validation_type"`
	Severity  model.Severity       `json:"severity"`
	Required  bool                 `json:"required"`
	Passed    bool                 `json:"passed"`
	Message   string               `json:"message,omitempty"`
	Details   []string             `json:"details,omitempty"`
	Duration  time.Duration        `json:"duration"`
	Timestamp time.Time            `json:"timestamp"`
}

// Fatal reports whether a failed result should abort a deployment: only a
// required error-severity pre step can.
func (r StepResult) Fatal() bool {
	return !r.Passed && r.Required && r.Type == model.ValidationPre && r.Severity == model.SeverityError
}

// Summary aggregates one deployment's history.
type Summary struct {
	Total       int     `json:"total"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Framework owns the rule catalog and the per-deployment history.
type Framework struct {
	rules map[RuleID]Rule
	order []RuleID

	mu      sync.Mutex
	history map[string][]StepResult
}

// NewFramework builds a framework over the default catalog.
func NewFramework() *Framework {
	return NewFrameworkWithRules(DefaultRules())
}

// NewFrameworkWithRules builds a framework over a custom catalog. Later
// rules with a duplicate ID replace earlier ones.
func NewFrameworkWithRules(rules []Rule) *Framework {
	f := &Framework{
		rules:   make(map[RuleID]Rule, len(rules)),
		history: make(map[string][]StepResult),
	}
	for _, r := range rules {
		if _, dup := f.rules[r.ID]; !dup {
			f.order = append(f.order, r.ID)
		}
		f.rules[r.ID] = r
	}
	return f
}

// Rules returns the catalog in selection order.
func (f *Framework) Rules() []Rule {
	out := make([]Rule, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.rules[id])
	}
	return out
}

// DefineSteps selects the rules that apply to a diff.
func (f *Framework) DefineSteps(d *model.DeploymentDiff) []model.ValidationStep {
	var steps []model.ValidationStep
	for _, id := range f.order {
		r := f.rules[id]
		if r.Applies != nil && (d == nil || !r.Applies(d)) {
			continue
		}
		steps = append(steps, r.Step())
	}
	return steps
}

// ExecuteStep runs one step and records its result in the deployment's
// history. An unknown step ID yields a failed result.
func (f *Framework) ExecuteStep(step model.ValidationStep, ctx *Context) StepResult {
	start := time.Now()
	res := StepResult{
		StepID:    step.ID,
		Name:      step.Name,
		Type:      step.Type,
		Severity:  step.Severity,
		Required:  step.Required,
		Timestamp: start,
	}

	rule, ok := f.rules[RuleID(step.ID)]
	switch {
	case !ok:
		res.Message = "unknown validation rule " + step.ID
	case ctx == nil || (ctx.Diff == nil && rule.ID != InputConsistency):
		res.Message = "no diff in validation context"
	default:
		if err := rule.Check(ctx); err != nil {
			res.Message, res.Details = describe(err)
		} else {
			res.Passed = true
		}
	}
	res.Duration = time.Since(start)

	id := ""
	if ctx != nil {
		id = ctx.DeploymentID
	}
	f.record(id, res)

	entry := util.WithDeployment(id).WithField("step", step.ID)
	if res.Passed {
		entry.Debug("validation passed")
	} else {
		entry.Debugf("validation failed: %s", res.Message)
	}
	return res
}

// ExecuteAll runs steps of one phase and returns every result.
func (f *Framework) ExecuteAll(steps []model.ValidationStep, t model.ValidationType, ctx *Context) []StepResult {
	var out []StepResult
	for _, s := range steps {
		if s.Type != t {
			continue
		}
		out = append(out, f.ExecuteStep(s, ctx))
	}
	return out
}

func describe(err error) (string, []string) {
	var ve *util.ValidationError
	if errors.As(err, &ve) {
		return strings.Join(ve.Errors, "; "), ve.Errors
	}
	return err.Error(), nil
}

func (f *Framework) record(id string, res StepResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[id] = append(f.history[id], res)
}

// History returns a copy of the results recorded for a deployment.
func (f *Framework) History(deploymentID string) []StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StepResult(nil), f.history[deploymentID]...)
}

// Summary computes pass and fail counts for a deployment.
func (f *Framework) Summary(deploymentID string) Summary {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s Summary
	for _, r := range f.history[deploymentID] {
		s.Total++
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}

// ClearHistory drops a deployment's recorded results.
func (f *Framework) ClearHistory(deploymentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.history, deploymentID)
}
