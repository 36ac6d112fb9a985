package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtdeploy/pkg/audit"
)

var (
	planStrategy string
	planConfigID string
)

var diffCmd = &cobra.Command{
	Use:   "diff <current> <desired>",
	Short: "Show what would change between two configurations",
	Long: `Compare two configuration files and classify every device as added,
modified, removed or unchanged, with VLAN changes and an impact assessment.

Files are JSON, or YAML when named *.yaml/*.yml: a mapping from device id to
its ordered command list, plus an optional _metadata.service_name.

Examples:
  newtdeploy diff running.yaml desired.yaml
  newtdeploy diff running.json desired.json --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, desired, err := loadConfigs(args[0], args[1])
		if err != nil {
			return err
		}
		d, err := planOnly().Engine.Compute(current, desired)
		if err != nil {
			return fmt.Errorf("computing diff: %w", err)
		}
		if ok, err := structured(os.Stdout, d); ok {
			return err
		}
		printDiff(os.Stdout, d)
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <current> <desired>",
	Short: "Show the execution plan for a change",
	Long: `Build the execution plan for a change without touching any device.

Strategies:
  aggressive    adds and modifies in parallel, then removals (default)
  conservative  one device at a time, removals last

Examples:
  newtdeploy plan running.yaml desired.yaml
  newtdeploy plan running.yaml desired.yaml --strategy aggressive --yaml`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, desired, err := loadConfigs(args[0], args[1])
		if err != nil {
			return err
		}
		strategy, err := strategyFlag(planStrategy)
		if err != nil {
			return err
		}

		o := planOnly()
		d, err := o.Engine.Compute(current, desired)
		if err != nil {
			return fmt.Errorf("computing diff: %w", err)
		}
		plan, err := o.GeneratePlan(cmd.Context(), d, strategy, planConfigID)
		if err != nil {
			return err
		}
		record(audit.PlanEvent(currentUser(), plan, false))

		if ok, err := structured(os.Stdout, plan); ok {
			return err
		}
		printPlan(os.Stdout, plan)
		return nil
	},
}

func init() {
	addOutputFlags(diffCmd)
	addOutputFlags(planCmd)
	planCmd.Flags().StringVar(&planStrategy, "strategy", "", "Plan strategy: aggressive (default) or conservative")
	planCmd.Flags().StringVar(&planConfigID, "config-id", "", "Identifier of the desired configuration")
}
