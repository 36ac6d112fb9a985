package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtdeploy/pkg/audit"
	"github.com/newtron-network/newtdeploy/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the deployment audit log",
	Long: `View the audit log of plans, deployments and rollbacks.

Every executed deployment records its start, each device stage transition,
and its result.

Examples:
  newtdeploy audit list --deployment <id>
  newtdeploy audit list --device leaf1 --last 24h
  newtdeploy audit list --user alice --failures`,
}

var (
	auditDeployment string
	auditDevice     string
	auditUser       string
	auditType       string
	auditLast       time.Duration
	auditLimit      int
	auditFailures   bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			DeploymentID: auditDeployment,
			Device:       auditDevice,
			User:         auditUser,
			Type:         audit.EventType(auditType),
			Limit:        auditLimit,
			FailureOnly:  auditFailures,
		}
		if auditLast > 0 {
			filter.StartTime = time.Now().Add(-auditLast)
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}
		if ok, err := structured(os.Stdout, events); ok {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "USER", "TYPE", "DEPLOYMENT", "DEVICE", "STAGE", "STATUS")
		for _, e := range events {
			status := green("ok")
			if !e.Success {
				status = red("failed")
			}
			if e.DryRun {
				status = yellow("dry-run")
			}
			device := e.Device
			if device == "" {
				device = "-"
			}
			stage := e.Stage
			if stage == "" {
				stage = "-"
			}
			t.Row(e.Timestamp.Format("2006-01-02 15:04:05"), e.User, string(e.Type),
				cli.Truncate(e.DeploymentID, 13), device, stage, status)
		}
		t.Flush()
		return nil
	},
}

func init() {
	addOutputFlags(auditListCmd)
	auditListCmd.Flags().StringVar(&auditDeployment, "deployment", "", "Filter by deployment id")
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by device")
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditType, "type", "", "Filter by event type (plan, deploy_start, device_stage, deploy_result, rollback)")
	auditListCmd.Flags().DurationVar(&auditLast, "last", 0, "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")

	auditCmd.AddCommand(auditListCmd)
}
