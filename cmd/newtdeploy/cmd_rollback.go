package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtdeploy/pkg/audit"
	"github.com/newtron-network/newtdeploy/pkg/cli"
)

var (
	rollbackAskPass bool
	rollbackMaxAge  time.Duration
	rollbackForce   bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Inspect and apply stored rollbacks",
	Long: `Every deployment stores a rollback before the first command is sent:
one derived from the diff (keyed by deployment id) and one snapshot of the
previous configuration (keyed <deployment-id>:snapshot).

A rollback can be looked up by its key, its deployment id or the config id
given to deploy.

Examples:
  newtdeploy rollback list
  newtdeploy rollback show <id>
  newtdeploy rollback validate <id>
  newtdeploy rollback execute <id> -x
  newtdeploy rollback cleanup --max-age 720h -x`,
}

var rollbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rollbacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closer, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closer.Close()

		list, err := mgr.List(cmd.Context())
		if err != nil {
			return err
		}
		if ok, err := structured(os.Stdout, list); ok {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No rollbacks stored")
			return nil
		}

		t := cli.NewTable("KEY", "KIND", "CONFIG", "DEVICES", "COMMANDS", "CREATED")
		for _, rc := range list {
			config := rc.OriginalConfigID
			if config == "" {
				config = "-"
			}
			t.Row(rc.Key(), string(rc.Kind), config,
				strconv.Itoa(len(rc.DeviceCommands)), strconv.Itoa(len(rc.Commands)),
				rc.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		t.Flush()
		return nil
	},
}

var rollbackShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a rollback's commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closer, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closer.Close()

		rc, err := mgr.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if ok, err := structured(os.Stdout, rc); ok {
			return err
		}
		printRollback(os.Stdout, rc)
		return nil
	},
}

var rollbackValidateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Check a rollback for syntax problems and dangerous commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closer, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closer.Close()

		rc, err := mgr.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rep := mgr.Validate(rc)
		if ok, err := structured(os.Stdout, rep); ok {
			return err
		}
		printValidation(os.Stdout, rep)
		if !rep.Valid {
			return fmt.Errorf("rollback %s failed validation", rc.Key())
		}
		return nil
	},
}

var rollbackExecuteCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Replay a rollback on its devices",
	Long: `Replay a rollback command by command. Individual failures are reported
and never stop the replay. A rollback that fails validation is refused
unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, closer, err := openManager(ctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		rc, err := mgr.Find(ctx, args[0])
		if err != nil {
			return err
		}
		rep := mgr.Validate(rc)
		printValidation(os.Stderr, rep)
		if !rep.Valid && !rollbackForce {
			return fmt.Errorf("rollback %s failed validation (use --force to apply anyway)", rc.Key())
		}

		if !app.executeMode {
			printRollback(os.Stdout, rc)
			printDryRunNotice()
			return nil
		}

		inv, err := loadInventory(rollbackAskPass)
		if err != nil {
			return err
		}
		ex, err := newExecutor(inv)
		if err != nil {
			return err
		}

		start := time.Now()
		res, err := mgr.Execute(ctx, rc.Key(), ex)
		event := audit.NewEvent(currentUser(), audit.EventRollback, rc.DeploymentID).
			WithExecuteMode(true).
			WithDuration(time.Since(start)).
			WithMessage(rc.Key())
		if err != nil {
			record(event.WithError(err))
			return err
		}
		event.Devices = res.Devices
		if res.Success() {
			event.WithSuccess()
		} else {
			event.WithError(fmt.Errorf("%d commands failed", res.Failed))
		}
		record(event)

		if ok, err := structured(os.Stdout, res); ok {
			return err
		}
		printRollbackResult(os.Stdout, res)
		return nil
	},
}

var rollbackDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a stored rollback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closer, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closer.Close()

		if !app.executeMode {
			fmt.Printf("Would delete rollback %s\n", args[0])
			printDryRunNotice()
			return nil
		}
		if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted rollback %s\n", args[0])
		return nil
	},
}

var rollbackCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete rollbacks older than --max-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closer, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closer.Close()

		if !app.executeMode {
			cutoff := time.Now().Add(-rollbackMaxAge)
			list, err := mgr.List(cmd.Context())
			if err != nil {
				return err
			}
			n := 0
			for _, rc := range list {
				if rc.CreatedAt.Before(cutoff) {
					fmt.Printf("Would delete %s (%s)\n", rc.Key(), rc.CreatedAt.Format("2006-01-02"))
					n++
				}
			}
			fmt.Printf("%d rollbacks older than %s\n", n, rollbackMaxAge)
			printDryRunNotice()
			return nil
		}

		n, err := mgr.CleanupOld(cmd.Context(), rollbackMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d rollbacks older than %s\n", n, rollbackMaxAge)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{rollbackListCmd, rollbackShowCmd, rollbackValidateCmd, rollbackExecuteCmd} {
		addOutputFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{rollbackExecuteCmd, rollbackDeleteCmd, rollbackCleanupCmd} {
		addWriteFlags(cmd)
	}
	rollbackExecuteCmd.Flags().BoolVar(&rollbackAskPass, "ask-pass", false, "Prompt for the device password")
	rollbackExecuteCmd.Flags().BoolVar(&rollbackForce, "force", false, "Apply even if validation fails")
	rollbackCleanupCmd.Flags().DurationVar(&rollbackMaxAge, "max-age", 30*24*time.Hour, "Delete rollbacks older than this")

	rollbackCmd.AddCommand(rollbackListCmd)
	rollbackCmd.AddCommand(rollbackShowCmd)
	rollbackCmd.AddCommand(rollbackValidateCmd)
	rollbackCmd.AddCommand(rollbackExecuteCmd)
	rollbackCmd.AddCommand(rollbackDeleteCmd)
	rollbackCmd.AddCommand(rollbackCleanupCmd)
}
