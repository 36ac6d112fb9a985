// Newtdeploy - fleet configuration rollout tool
//
// Computes the difference between the configuration a fleet runs and the one
// it should run, plans a grouped rollout, prepares rollback commands, and
// pushes each device through check, commit, and verify:
//
//	newtdeploy diff current.yaml desired.yaml
//	newtdeploy plan current.yaml desired.yaml --strategy aggressive
//	newtdeploy deploy current.yaml desired.yaml -x
//	newtdeploy rollback list
//	newtdeploy rollback execute <deployment-id> -x
//
// Write commands preview by default; -x executes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/newtdeploy/pkg/audit"
	"github.com/newtron-network/newtdeploy/pkg/cli"
	"github.com/newtron-network/newtdeploy/pkg/settings"
	"github.com/newtron-network/newtdeploy/pkg/util"
	"github.com/newtron-network/newtdeploy/pkg/version"
)

// App holds state shared by every command.
type App struct {
	settings *settings.Settings

	inventoryPath string
	backend       string
	executeMode   bool
	verbose       bool
	jsonOutput    bool
	yamlOutput    bool
	noColor       bool
	logFormat     string
}

var app = &App{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "newtdeploy",
	Short:             "Fleet configuration rollout tool",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Newtdeploy rolls configuration changes out to a fleet of network devices.

Every device runs a transactional push: the candidate configuration is checked
without committing, committed only when the whole group checked clean, then
verified with a read-only query. A rollback is stored before anything is sent.

Write commands preview by default; use -x to execute.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// quiet by default, verbose on -v
		level := "warn"
		if app.verbose {
			level = "debug"
		}
		if err := util.Configure(level, app.logFormat); err != nil {
			return err
		}
		if app.noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
			cli.SetColor(false)
		}

		s, err := settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			s = &settings.Settings{}
		}
		app.settings = s

		// settings commands edit the file as stored, without overrides
		if isSettingsOrHelp(cmd) {
			return nil
		}
		if err := s.LoadEnv(); err != nil {
			return err
		}
		if app.inventoryPath == "" {
			app.inventoryPath = s.Inventory
		}
		if app.backend == "" {
			app.backend = s.GetRollbackBackend()
		}

		logger, err := audit.NewFileLogger(s.GetAuditLog(), audit.RotationConfig{
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxBackups: 10,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(logger)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.inventoryPath, "inventory", "i", "", "Device inventory file (YAML)")
	rootCmd.PersistentFlags().StringVar(&app.backend, "rollback-backend", "", "Rollback store: file, redis or sqlite")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&app.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddGroup(
		&cobra.Group{ID: "rollout", Title: "Rollout:"},
		&cobra.Group{ID: "recovery", Title: "Recovery:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{diffCmd, planCmd, deployCmd, watchCmd} {
		cmd.GroupID = "rollout"
		rootCmd.AddCommand(cmd)
	}
	rollbackCmd.GroupID = "recovery"
	rootCmd.AddCommand(rollbackCmd)
	for _, cmd := range []*cobra.Command{auditCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Dev() {
			fmt.Println("newtdeploy dev build (use 'make build' for version info)")
			return
		}
		fmt.Println(version.Info())
	},
}

// isSettingsOrHelp checks whether cmd (or any ancestor) is a settings, help, or version command.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "settings":
			return true
		}
	}
	return false
}

// addWriteFlags registers -x/--execute as a local flag.
func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&app.executeMode, "execute", "x", false, "Execute changes (default is dry-run)")
}

// addOutputFlags registers --json and --yaml as local flags.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&app.jsonOutput, "json", false, "JSON output")
	cmd.Flags().BoolVar(&app.yamlOutput, "yaml", false, "YAML output")
}

func printDryRunNotice() {
	if !app.executeMode {
		fmt.Println("\n" + yellow("DRY-RUN: No changes applied. Use -x to execute."))
	}
}

// currentUser names the operator in audit events.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// Color helpers delegate to pkg/cli
func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }
