package validation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/newtron-network/newtdeploy/pkg/diff"
	"github.com/newtron-network/newtdeploy/pkg/model"
)

func computeDiff(t *testing.T, current, desired map[string][]string) *model.DeploymentDiff {
	t.Helper()
	cur, next := model.NewConfigSet(), model.NewConfigSet()
	for k, v := range current {
		cur.Devices[k] = v
	}
	for k, v := range desired {
		next.Devices[k] = v
	}
	d, err := diff.NewEngine().Compute(cur, next)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	return d
}

// fleet returns n devices that all declare VLAN 10.
func fleet(n int) map[string][]string {
	m := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		m[fmt.Sprintf("leaf%02d", i)] = []string{"vlan 10"}
	}
	return m
}

func stepIDs(steps []model.ValidationStep) map[string]bool {
	m := make(map[string]bool)
	for _, s := range steps {
		m[s.ID] = true
	}
	return m
}

func TestDefineSteps(t *testing.T) {
	many := fleet(11)

	tests := []struct {
		name    string
		current map[string][]string
		desired map[string][]string
		want    []RuleID
		notWant []RuleID
	}{
		{
			name:    "plain add",
			desired: map[string][]string{"a": {"hostname a"}},
			want:    []RuleID{InputConsistency, CommandSyntax, FailureThreshold, PartialCommit, DeviceCoverage, RollbackAvailable},
			notWant: []RuleID{VLANRange, VLANConflict, BlastRadius, RollbackComplexity, CleanupVerified},
		},
		{
			name:    "vlan change",
			desired: map[string][]string{"a": {"vlan 10"}},
			want:    []RuleID{VLANRange, VLANConflict},
			notWant: []RuleID{BlastRadius, CleanupVerified},
		},
		{
			name:    "high risk",
			desired: many,
			want:    []RuleID{BlastRadius, RollbackComplexity, VLANRange},
		},
		{
			name:    "removal",
			current: map[string][]string{"a": {"hostname a"}},
			want:    []RuleID{CleanupVerified},
			notWant: []RuleID{VLANRange},
		},
	}

	f := NewFramework()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stepIDs(f.DefineSteps(computeDiff(t, tt.current, tt.desired)))
			for _, id := range tt.want {
				if !got[string(id)] {
					t.Errorf("missing step %s", id)
				}
			}
			for _, id := range tt.notWant {
				if got[string(id)] {
					t.Errorf("unexpected step %s", id)
				}
			}
		})
	}
}

func TestDefineSteps_RequiredFlags(t *testing.T) {
	steps := NewFramework().DefineSteps(computeDiff(t, nil, map[string][]string{"a": {"vlan 5"}}))
	for _, s := range steps {
		switch RuleID(s.ID) {
		case InputConsistency, CommandSyntax, VLANRange, DeviceCoverage, RollbackAvailable:
			if !s.Required {
				t.Errorf("%s should be required", s.ID)
			}
		case VLANConflict, FailureThreshold, PartialCommit:
			if s.Required {
				t.Errorf("%s should be optional", s.ID)
			}
		}
	}
}

func findStep(t *testing.T, steps []model.ValidationStep, id RuleID) model.ValidationStep {
	t.Helper()
	for _, s := range steps {
		if s.ID == string(id) {
			return s
		}
	}
	t.Fatalf("step %s not defined", id)
	return model.ValidationStep{}
}

func TestExecuteStep_VLANRange(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t, nil, map[string][]string{"a": {"vlan 5000", "interface eth1", "vlan-id 4095"}})
	step := findStep(t, f.DefineSteps(d), VLANRange)

	res := f.ExecuteStep(step, &Context{DeploymentID: "dep1", Diff: d})
	if res.Passed {
		t.Fatal("out-of-range VLAN passed")
	}
	if !res.Fatal() {
		t.Error("required pre error should be fatal")
	}
	if !strings.Contains(res.Message, "5000") || !strings.Contains(res.Message, "4095") {
		t.Errorf("message = %q", res.Message)
	}
	if len(res.Details) != 2 {
		t.Errorf("details = %v", res.Details)
	}
}

func TestExecuteStep_CommandSyntax(t *testing.T) {
	f := NewFramework()
	tests := []struct {
		name string
		cmds []string
		pass bool
	}{
		{"clean", []string{"interface eth1", `description "uplink (core)"`}, true},
		{"unbalanced", []string{"route-map X permit 10 (match"}, false},
		{"control char", []string{"hostname a\x07"}, false},
		{"quoted bracket", []string{`description "a)b"`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := computeDiff(t, nil, map[string][]string{"dev": tt.cmds})
			res := f.ExecuteStep(findStep(t, f.DefineSteps(d), CommandSyntax), &Context{Diff: d})
			if res.Passed != tt.pass {
				t.Errorf("Passed = %v, want %v (%s)", res.Passed, tt.pass, res.Message)
			}
		})
	}
}

func TestExecuteStep_InputConsistency(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t, nil, map[string][]string{"a": {"hostname a"}})
	step := findStep(t, f.DefineSteps(d), InputConsistency)

	if res := f.ExecuteStep(step, &Context{Diff: d}); !res.Passed {
		t.Errorf("consistent input failed: %s", res.Message)
	}

	other := model.NewConfigSet()
	other.Devices["b"] = []string{"x"}
	res := f.ExecuteStep(step, &Context{Diff: d, NewConfig: other})
	if res.Passed || !strings.Contains(res.Message, "missing from desired") {
		t.Errorf("mismatched input: passed=%v msg=%q", res.Passed, res.Message)
	}
}

func TestExecuteStep_InputConsistencyCases(t *testing.T) {
	f := NewFramework()
	tests := []struct {
		name    string
		current map[string][]string
		desired map[string][]string
		ctxCur  map[string][]string
		wantMsg string
	}{
		// an empty desired list is a change with nothing to push, not a removal
		{name: "empty desired on new device", desired: map[string][]string{"a": {}}, wantMsg: "a has no desired commands"},
		{name: "empty desired on existing device", current: map[string][]string{"a": {"vlan 10"}}, desired: map[string][]string{"a": {}}, wantMsg: "a has no desired commands"},
		{name: "removal seen in current", current: map[string][]string{"a": {"vlan 10"}}, ctxCur: map[string][]string{"a": {"vlan 10"}}},
		{name: "removal missing from current", current: map[string][]string{"a": {"vlan 10"}}, ctxCur: map[string][]string{"b": {"vlan 10"}}, wantMsg: "a missing from current"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := computeDiff(t, tt.current, tt.desired)
			ctx := &Context{Diff: d}
			if tt.ctxCur != nil {
				ctx.CurrentConfig = model.NewConfigSet()
				for k, v := range tt.ctxCur {
					ctx.CurrentConfig.Devices[k] = v
				}
			}
			res := f.ExecuteStep(findStep(t, f.DefineSteps(d), InputConsistency), ctx)
			if tt.wantMsg == "" {
				if !res.Passed {
					t.Errorf("failed: %s", res.Message)
				}
				return
			}
			if res.Passed || !res.Fatal() {
				t.Fatalf("passed=%v fatal=%v, want fatal failure", res.Passed, res.Fatal())
			}
			if !strings.Contains(res.Message, tt.wantMsg) {
				t.Errorf("message = %q, want %q", res.Message, tt.wantMsg)
			}
		})
	}
}

func TestExecuteStep_FailureThreshold(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t, nil, map[string][]string{"a": {"x"}, "b": {"y"}})
	step := findStep(t, f.DefineSteps(d), FailureThreshold)

	tests := []struct {
		name   string
		prefs  map[string]string
		failed []string
		pass   bool
	}{
		{"no failures", nil, nil, true},
		{"default ratio zero", nil, []string{"b"}, false},
		{"tolerated", map[string]string{PrefMaxFailureRatio: "0.5"}, []string{"b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.ExecuteStep(step, &Context{
				Diff: d, UserPreferences: tt.prefs,
				Deployed: []string{"a"}, Failed: tt.failed,
			})
			if res.Passed != tt.pass {
				t.Errorf("Passed = %v, want %v (%s)", res.Passed, tt.pass, res.Message)
			}
			if res.Fatal() {
				t.Error("during warning must never be fatal")
			}
		})
	}
}

func TestExecuteStep_BlastRadiusPreference(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t, nil, fleet(11))
	step := findStep(t, f.DefineSteps(d), BlastRadius)

	if res := f.ExecuteStep(step, &Context{Diff: d}); res.Passed {
		t.Error("11 devices over default limit passed")
	}
	res := f.ExecuteStep(step, &Context{Diff: d, UserPreferences: map[string]string{PrefMaxDevices: "20"}})
	if !res.Passed {
		t.Errorf("11 devices under limit 20 failed: %s", res.Message)
	}
}

func TestExecuteStep_PostRules(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t,
		map[string][]string{"old": {"hostname old"}},
		map[string][]string{"a": {"hostname a"}},
	)
	steps := f.DefineSteps(d)

	ctx := &Context{Diff: d, Deployed: []string{"a"}, Committed: []string{"a"}}
	if res := f.ExecuteStep(findStep(t, steps, DeviceCoverage), ctx); res.Passed {
		t.Error("coverage passed with 'old' undeployed")
	}
	if res := f.ExecuteStep(findStep(t, steps, CleanupVerified), ctx); res.Passed {
		t.Error("cleanup passed with 'old' undeployed")
	}
	if res := f.ExecuteStep(findStep(t, steps, RollbackAvailable), ctx); res.Passed {
		t.Error("rollback check passed without rollback")
	}

	ctx = &Context{Diff: d, Deployed: []string{"a", "old"}, Committed: []string{"a", "old"}, RollbackAvailable: true}
	for _, id := range []RuleID{DeviceCoverage, CleanupVerified, RollbackAvailable} {
		res := f.ExecuteStep(findStep(t, steps, id), ctx)
		if !res.Passed {
			t.Errorf("%s failed: %s", id, res.Message)
		}
		if res.Fatal() {
			t.Errorf("%s: post steps are never fatal", id)
		}
	}
}

func TestExecuteStep_PartialCommit(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t, nil, map[string][]string{"a": {"x"}, "b": {"y"}})
	step := findStep(t, f.DefineSteps(d), PartialCommit)

	res := f.ExecuteStep(step, &Context{Diff: d, Committed: []string{"a"}, Failed: []string{"b"}})
	if res.Passed || !strings.Contains(res.Message, "committed on a while b failed") {
		t.Errorf("partial commit: passed=%v msg=%q", res.Passed, res.Message)
	}
}

func TestExecuteStep_Unknown(t *testing.T) {
	f := NewFramework()
	res := f.ExecuteStep(model.ValidationStep{ID: "pre.nope", Type: model.ValidationPre}, &Context{DeploymentID: "x"})
	if res.Passed {
		t.Error("unknown step passed")
	}
}

func TestHistoryAndSummary(t *testing.T) {
	f := NewFramework()
	d := computeDiff(t, nil, map[string][]string{"a": {"vlan 5000"}})
	steps := f.DefineSteps(d)
	ctx := &Context{DeploymentID: "dep1", Diff: d}

	f.ExecuteStep(findStep(t, steps, InputConsistency), ctx)
	f.ExecuteStep(findStep(t, steps, VLANRange), ctx)

	if got := len(f.History("dep1")); got != 2 {
		t.Fatalf("history len = %d, want 2", got)
	}
	s := f.Summary("dep1")
	if s.Total != 2 || s.Passed != 1 || s.Failed != 1 || s.SuccessRate != 0.5 {
		t.Errorf("summary = %+v", s)
	}
	if len(f.History("other")) != 0 {
		t.Error("history leaked across deployments")
	}

	f.ClearHistory("dep1")
	if s := f.Summary("dep1"); s.Total != 0 || s.SuccessRate != 0 {
		t.Errorf("summary after clear = %+v", s)
	}
}

func TestBracketsBalanced(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"a (b [c] {d})", true},
		{"(]", false},
		{")(", false},
		{"((", false},
		{`"("`, true},
	}
	for _, tt := range tests {
		if got := BracketsBalanced(tt.in); got != tt.want {
			t.Errorf("BracketsBalanced(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
