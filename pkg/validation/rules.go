package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/newtron-network/newtdeploy/pkg/diff"
	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// RuleID identifies a rule in the catalog.
type RuleID string

const (
	InputConsistency   RuleID = "pre.input_consistency"
	CommandSyntax      RuleID = "pre.command_syntax"
	VLANRange          RuleID = "pre.vlan_range"
	VLANConflict       RuleID = "pre.vlan_conflict"
	BlastRadius        RuleID = "pre.blast_radius"
	RollbackComplexity RuleID = "pre.rollback_complexity"
	FailureThreshold   RuleID = "during.failure_threshold"
	PartialCommit      RuleID = "during.partial_commit"
	DeviceCoverage     RuleID = "post.device_coverage"
	RollbackAvailable  RuleID = "post.rollback_available"
	CleanupVerified    RuleID = "post.cleanup_verification"
)

// User preference keys read by the rules.
const (
	PrefMaxDevices      = "max_devices"
	PrefMaxFailureRatio = "max_failure_ratio"

	DefaultMaxDevices      = 10
	DefaultMaxFailureRatio = 0.0
)

// maxCommandLength bounds a single command line.
const maxCommandLength = 1024

// CheckFunc returns nil when the check passes. A non-nil error carries the
// failure description.
type CheckFunc func(ctx *Context) error

// Rule is one entry in the validation catalog.
type Rule struct {
	ID          RuleID
	Name        string
	Description string
	Type        model.ValidationType
	Severity    model.Severity
	Required    bool

	// Applies selects the rule for a diff. Nil means always.
	Applies func(d *model.DeploymentDiff) bool

	Check CheckFunc
}

// Step converts the rule into a plan step.
func (r Rule) Step() model.ValidationStep {
	return model.ValidationStep{
		ID:          string(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		Severity:    r.Severity,
		Required:    r.Required,
	}
}

func hasVLANChanges(d *model.DeploymentDiff) bool { return len(d.VlanChanges) > 0 }
func isHighRisk(d *model.DeploymentDiff) bool     { return d.Impact.RiskLevel == model.RiskHigh }
func hasRemovals(d *model.DeploymentDiff) bool    { return len(d.DevicesToRemove) > 0 }

// DefaultRules returns the built-in catalog in selection order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: InputConsistency, Name: "Input consistency",
			Description: "Every changed device has a matching entry in the current or desired configuration",
			Type:        model.ValidationPre, Severity: model.SeverityError, Required: true,
			Check: checkInputConsistency,
		},
		{
			ID: CommandSyntax, Name: "Command syntax",
			Description: "Desired command lines are printable, bounded, and bracket-balanced",
			Type:        model.ValidationPre, Severity: model.SeverityError, Required: true,
			Check: checkCommandSyntax,
		},
		{
			ID: VLANRange, Name: "VLAN range",
			Description: "Every referenced VLAN ID is within 1-4094",
			Type:        model.ValidationPre, Severity: model.SeverityError, Required: true,
			Applies: hasVLANChanges, Check: checkVLANRange,
		},
		{
			ID: VLANConflict, Name: "VLAN conflict",
			Description: "No VLAN is added on one device while being removed from another",
			Type:        model.ValidationPre, Severity: model.SeverityWarning,
			Applies: hasVLANChanges, Check: checkVLANConflict,
		},
		{
			ID: BlastRadius, Name: "Blast radius",
			Description: "Changed device count stays within the max_devices preference",
			Type:        model.ValidationPre, Severity: model.SeverityWarning,
			Applies: isHighRisk, Check: checkBlastRadius,
		},
		{
			ID: RollbackComplexity, Name: "Rollback complexity",
			Description: "The diff can be undone without a high-complexity rollback",
			Type:        model.ValidationPre, Severity: model.SeverityWarning,
			Applies: isHighRisk, Check: checkRollbackComplexity,
		},
		{
			ID: FailureThreshold, Name: "Failure threshold",
			Description: "Failed device ratio stays within the max_failure_ratio preference",
			Type:        model.ValidationDuring, Severity: model.SeverityWarning,
			Check: checkFailureThreshold,
		},
		{
			ID: PartialCommit, Name: "Partial commit",
			Description: "No device is left committed while another device failed",
			Type:        model.ValidationDuring, Severity: model.SeverityWarning,
			Check: checkPartialCommit,
		},
		{
			ID: DeviceCoverage, Name: "Device coverage",
			Description: "Every changed device was deployed",
			Type:        model.ValidationPost, Severity: model.SeverityError, Required: true,
			Check: checkDeviceCoverage,
		},
		{
			ID: RollbackAvailable, Name: "Rollback available",
			Description: "A rollback exists whenever any device was committed",
			Type:        model.ValidationPost, Severity: model.SeverityError, Required: true,
			Check: checkRollbackAvailable,
		},
		{
			ID: CleanupVerified, Name: "Cleanup verification",
			Description: "Every removed device had its teardown applied",
			Type:        model.ValidationPost, Severity: model.SeverityError,
			Applies: hasRemovals, Check: checkCleanupVerified,
		},
	}
}

func checkInputConsistency(ctx *Context) error {
	if ctx.Diff == nil {
		return fmt.Errorf("no diff supplied")
	}

	v := &util.ValidationBuilder{}
	seen := make(map[string]model.ChangeType)
	for _, c := range ctx.Diff.AllChanges() {
		if prev, dup := seen[c.DeviceID]; dup {
			v.AddErrorf("device %s classified as both %s and %s", c.DeviceID, prev, c.ChangeType)
		}
		seen[c.DeviceID] = c.ChangeType

		switch c.ChangeType {
		case model.ChangeAdd, model.ChangeModify:
			if len(c.NewCommands) == 0 {
				v.AddErrorf("device %s has no desired commands", c.DeviceID)
			}
			if ctx.NewConfig != nil && !ctx.NewConfig.Has(c.DeviceID) {
				v.AddErrorf("device %s missing from desired configuration", c.DeviceID)
			}
		case model.ChangeRemove:
			if ctx.CurrentConfig != nil && !ctx.CurrentConfig.Has(c.DeviceID) {
				v.AddErrorf("device %s missing from current configuration", c.DeviceID)
			}
		}
	}
	return v.Build()
}

func checkCommandSyntax(ctx *Context) error {
	v := &util.ValidationBuilder{}
	for _, c := range ctx.Diff.AllChanges() {
		for i, line := range c.NewCommands {
			if len(line) > maxCommandLength {
				v.AddErrorf("%s command %d exceeds %d characters", c.DeviceID, i+1, maxCommandLength)
			}
			if strings.IndexFunc(line, isControl) >= 0 {
				v.AddErrorf("%s command %d contains control characters", c.DeviceID, i+1)
			}
			if !BracketsBalanced(line) {
				v.AddErrorf("%s command %d has unbalanced brackets: %s", c.DeviceID, i+1, line)
			}
		}
	}
	return v.Build()
}

func isControl(r rune) bool {
	return unicode.IsControl(r) && r != '\t'
}

// BracketsBalanced reports whether (), [] and {} nest correctly in s.
// Brackets inside double quotes are ignored.
func BracketsBalanced(s string) bool {
	var stack []rune
	inQuote := false
	for _, r := range s {
		if r == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 {
				return false
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if (open == '(' && r != ')') || (open == '[' && r != ']') || (open == '{' && r != '}') {
				return false
			}
		}
	}
	return len(stack) == 0
}

func checkVLANRange(ctx *Context) error {
	v := &util.ValidationBuilder{}
	bad := make(map[int]bool)
	report := func(id int, where string) {
		if err := util.ValidateVLANID(id); err != nil && !bad[id] {
			bad[id] = true
			v.AddErrorf("%s: %v", where, err)
		}
	}

	for _, vc := range ctx.Diff.VlanChanges {
		report(vc.VlanID, "VLAN change")
	}
	for _, c := range ctx.Diff.AllChanges() {
		if c.ChangeType == model.ChangeRemove {
			continue
		}
		parsed := diff.Parse(c.NewCommands)
		for _, name := range parsed.InterfaceNames() {
			for _, id := range parsed.Interfaces[name].VLANIDs() {
				report(id, c.DeviceID+" "+name)
			}
		}
	}
	return v.Build()
}

func checkVLANConflict(ctx *Context) error {
	added := make(map[int][]string)
	removed := make(map[int][]string)
	for _, c := range ctx.Diff.AllChanges() {
		for _, vc := range c.VlanChanges {
			switch vc.ChangeType {
			case model.ChangeAdd:
				added[vc.VlanID] = append(added[vc.VlanID], c.DeviceID)
			case model.ChangeRemove:
				removed[vc.VlanID] = append(removed[vc.VlanID], c.DeviceID)
			}
		}
	}

	v := &util.ValidationBuilder{}
	for _, vc := range ctx.Diff.VlanChanges {
		a, r := added[vc.VlanID], removed[vc.VlanID]
		if len(a) > 0 && len(r) > 0 {
			v.AddErrorf("VLAN %d added on %s but removed from %s",
				vc.VlanID, strings.Join(a, ","), strings.Join(r, ","))
		}
	}
	return v.Build()
}

func checkBlastRadius(ctx *Context) error {
	limit := ctx.intPref(PrefMaxDevices, DefaultMaxDevices)
	if n := ctx.Diff.Impact.AffectedDevices; n > limit {
		return fmt.Errorf("%d devices affected, limit is %d", n, limit)
	}
	return nil
}

func checkRollbackComplexity(ctx *Context) error {
	if c := ctx.Diff.Impact.RollbackComplexity; c == model.ComplexityHigh {
		return fmt.Errorf("rollback complexity is %s", c)
	}
	return nil
}

func checkFailureThreshold(ctx *Context) error {
	attempted := len(ctx.Deployed) + len(ctx.Failed)
	if attempted == 0 {
		return nil
	}
	limit := ctx.floatPref(PrefMaxFailureRatio, DefaultMaxFailureRatio)
	ratio := float64(len(ctx.Failed)) / float64(attempted)
	if ratio > limit {
		return fmt.Errorf("failure ratio %.2f exceeds %.2f (%d of %d devices failed)",
			ratio, limit, len(ctx.Failed), attempted)
	}
	return nil
}

func checkPartialCommit(ctx *Context) error {
	if len(ctx.Committed) > 0 && len(ctx.Failed) > 0 {
		return fmt.Errorf("committed on %s while %s failed",
			strings.Join(ctx.Committed, ","), strings.Join(ctx.Failed, ","))
	}
	return nil
}

func checkDeviceCoverage(ctx *Context) error {
	deployed := toSet(ctx.Deployed)
	var missing []string
	for _, c := range ctx.Diff.AllChanges() {
		if !deployed[c.DeviceID] {
			missing = append(missing, c.DeviceID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("devices not deployed: %s", strings.Join(missing, ", "))
	}
	return nil
}

func checkRollbackAvailable(ctx *Context) error {
	if len(ctx.Committed) > 0 && !ctx.RollbackAvailable {
		return fmt.Errorf("%d devices committed without a rollback", len(ctx.Committed))
	}
	return nil
}

func checkCleanupVerified(ctx *Context) error {
	deployed := toSet(ctx.Deployed)
	var pending []string
	for _, c := range ctx.Diff.DevicesToRemove {
		if !deployed[c.DeviceID] {
			pending = append(pending, c.DeviceID)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("teardown not applied on: %s", strings.Join(pending, ", "))
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (c *Context) intPref(key string, def int) int {
	if s, ok := c.UserPreferences[key]; ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func (c *Context) floatPref(key string, def float64) float64 {
	if s, ok := c.UserPreferences[key]; ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}
