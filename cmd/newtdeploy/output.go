package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtdeploy/pkg/cli"
	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/rollback"
)

// structured writes v as JSON or YAML when one of those flags is set and
// reports whether it did.
func structured(w io.Writer, v interface{}) (bool, error) {
	switch {
	case app.jsonOutput:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case app.yamlOutput:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

func ints(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func printDiff(w io.Writer, d *model.DeploymentDiff) {
	if d.IsEmpty() {
		fmt.Fprintln(w, green("No changes."))
		return
	}

	t := cli.NewTableTo(w, "DEVICE", "CHANGE", "INTERFACES", "VLANS")
	for _, c := range d.AllChanges() {
		var vlans []int
		for _, vc := range c.VlanChanges {
			vlans = append(vlans, vc.VlanID)
		}
		intfs := strings.Join(c.AffectedInterfaces, ",")
		t.Row(c.DeviceID, cli.Change(c.ChangeType), cli.Truncate(intfs, 40), ints(vlans))
	}
	t.Flush()

	if len(d.UnchangedDevices) > 0 {
		fmt.Fprintf(w, "\nUnchanged: %s\n", strings.Join(d.UnchangedDevices, ", "))
	}
	if len(d.VlanChanges) > 0 {
		fmt.Fprintln(w, "\nFleet VLAN changes:")
		vt := cli.NewTableTo(w, "VLAN", "CHANGE", "DEVICES").WithPrefix("  ")
		for _, vc := range d.VlanChanges {
			vt.Row(strconv.Itoa(vc.VlanID), cli.Change(vc.ChangeType), strings.Join(vc.AffectedDevices, ","))
		}
		vt.Flush()
	}
	printImpact(w, d.Impact)
}

func printImpact(w io.Writer, im model.ImpactAssessment) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d\n", cli.DotPad("Affected devices", 24), im.AffectedDevices)
	fmt.Fprintf(w, "%s %s (score %d)\n", cli.DotPad("Risk", 24), cli.Risk(im.RiskLevel), im.RiskScore)
	fmt.Fprintf(w, "%s %s\n", cli.DotPad("Estimated duration", 24), cli.Seconds(im.EstimatedDuration))
	fmt.Fprintf(w, "%s %s\n", cli.DotPad("Rollback complexity", 24), im.RollbackComplexity)
	for _, c := range im.PotentialConflicts {
		fmt.Fprintf(w, "  %s %s\n", yellow("conflict:"), c)
	}
}

func printPlan(w io.Writer, p *model.DeploymentPlan) {
	fmt.Fprintf(w, "Deployment %s (%s, risk %s, ~%s)\n\n",
		bold(p.DeploymentID), p.Strategy, cli.Risk(p.RiskLevel), cli.Seconds(p.EstimatedDuration))

	t := cli.NewTableTo(w, "GROUP", "DEVICES", "PARALLEL", "DEPENDS ON", "ESTIMATE")
	for _, g := range p.Groups {
		devices := strings.Join(g.DeviceIDs(), ",")
		if devices == "" {
			devices = "-"
		}
		deps := strings.Join(g.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		t.Row(g.ID, cli.Truncate(devices, 40), cli.YesNo(g.CanParallel), deps, cli.Seconds(g.EstimatedDuration))
	}
	t.Flush()

	if len(p.ValidationSteps) > 0 {
		fmt.Fprintln(w, "\nValidation:")
		vt := cli.NewTableTo(w, "STEP", "PHASE", "SEVERITY", "REQUIRED").WithPrefix("  ")
		for _, s := range p.ValidationSteps {
			vt.Row(s.ID, string(s.Type), string(s.Severity), cli.YesNo(s.Required))
		}
		vt.Flush()
	}
	if p.Rollback != nil {
		fmt.Fprintf(w, "\nRollback prepared: %d commands across %d devices\n",
			len(p.Rollback.Commands), len(p.Rollback.DeviceCommands))
	}
}

func printResult(w io.Writer, r *model.DeploymentResult) {
	status := green("SUCCEEDED")
	if !r.Success {
		status = red("FAILED")
	}
	fmt.Fprintf(w, "\nDeployment %s %s in %s\n", r.DeploymentID, status, cli.Elapsed(r.Duration))
	if len(r.DeployedDevices) > 0 {
		fmt.Fprintf(w, "  deployed: %s\n", strings.Join(r.DeployedDevices, ", "))
	}
	if len(r.FailedDevices) > 0 {
		fmt.Fprintf(w, "  failed:   %s\n", red(strings.Join(r.FailedDevices, ", ")))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s %s\n", red("error:"), e)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow("warning:"), warn)
	}
	if r.RollbackAvailable {
		fmt.Fprintf(w, "\nRollback available: newtdeploy rollback execute %s -x\n", r.DeploymentID)
	}
}

func printRollback(w io.Writer, rc *model.RollbackConfig) {
	fmt.Fprintf(w, "%s %s\n", cli.DotPad("Key", 20), rc.Key())
	fmt.Fprintf(w, "%s %s\n", cli.DotPad("Kind", 20), rc.Kind)
	if rc.OriginalConfigID != "" {
		fmt.Fprintf(w, "%s %s\n", cli.DotPad("Config", 20), rc.OriginalConfigID)
	}
	fmt.Fprintf(w, "%s %s\n\n", cli.DotPad("Created", 20), rc.CreatedAt.Format("2006-01-02 15:04:05"))

	if len(rc.DeviceCommands) == 0 {
		for _, c := range rc.Commands {
			fmt.Fprintf(w, "  %s\n", c)
		}
		return
	}
	for _, dev := range sortedKeys(rc.DeviceCommands) {
		fmt.Fprintf(w, "%s:\n", bold(dev))
		for _, c := range rc.DeviceCommands[dev] {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}
}

func printValidation(w io.Writer, rep *rollback.ValidationReport) {
	if rep.Valid {
		fmt.Fprintln(w, green("Rollback is valid."))
	} else {
		fmt.Fprintln(w, red("Rollback is NOT valid."))
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  %s %s\n", red("error:"), e)
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow("warning:"), warn)
	}
}

func printRollbackResult(w io.Writer, r *rollback.Result) {
	status := green("applied")
	if !r.Success() {
		status = yellow("applied with failures")
	}
	fmt.Fprintf(w, "Rollback %s %s: %d succeeded, %d failed (%s)\n",
		r.Key, status, r.Succeeded, r.Failed, cli.Elapsed(r.Duration))
	for _, l := range r.Logs {
		if !l.OK {
			fmt.Fprintf(w, "  %s %s: %s: %s\n", red("failed"), l.DeviceID, l.Command, l.Error)
		}
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
