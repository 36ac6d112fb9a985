package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtdeploy/pkg/audit"
	"github.com/newtron-network/newtdeploy/pkg/orchestrator"
	"github.com/newtron-network/newtdeploy/pkg/progress"
	"github.com/newtron-network/newtdeploy/pkg/util"
	"github.com/newtron-network/newtdeploy/pkg/validation"
)

var (
	deployStrategy   string
	deployConfigID   string
	deployAskPass    bool
	deployListen     string
	deployOrigins    []string
	deployRedisWatch bool
	deployMaxDevices int
)

var deployCmd = &cobra.Command{
	Use:   "deploy <current> <desired>",
	Short: "Roll a configuration change out to the fleet",
	Long: `Diff, plan, store a rollback, then push every changed device through
check, commit and verify. Without -x only the plan is shown.

A group commits only after every device in it checked clean; any check
failure stops the rollout with nothing committed in that group.

Progress can be followed live over WebSocket (--progress-listen) or Redis
pub/sub (--redis-progress, consumed by 'newtdeploy watch').

Examples:
  newtdeploy deploy running.yaml desired.yaml
  newtdeploy deploy running.yaml desired.yaml -x --strategy conservative
  newtdeploy deploy running.yaml desired.yaml -x --progress-listen :8765`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		current, desired, err := loadConfigs(args[0], args[1])
		if err != nil {
			return err
		}
		strategy, err := strategyFlag(deployStrategy)
		if err != nil {
			return err
		}

		if !app.executeMode {
			o := planOnly()
			d, err := o.Engine.Compute(current, desired)
			if err != nil {
				return fmt.Errorf("computing diff: %w", err)
			}
			plan, err := o.GeneratePlan(ctx, d, strategy, deployConfigID)
			if err != nil {
				return err
			}
			record(audit.PlanEvent(currentUser(), plan, false))
			if ok, err := structured(os.Stdout, plan); ok {
				return err
			}
			printDiff(os.Stdout, d)
			fmt.Println()
			printPlan(os.Stdout, plan)
			printDryRunNotice()
			return nil
		}

		inv, err := loadInventory(deployAskPass)
		if err != nil {
			return err
		}
		ex, err := newExecutor(inv)
		if err != nil {
			return err
		}
		mgr, closer, err := openManager(ctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		o := orchestrator.New(ex, mgr)
		if deployMaxDevices > 0 {
			o.Preferences[validation.PrefMaxDevices] = strconv.Itoa(deployMaxDevices)
		}

		observers := orchestrator.MultiObserver{
			progress.NewLogObserver(util.Logger),
			audit.NewObserver(nil, currentUser()),
		}
		if !app.jsonOutput && !app.yamlOutput {
			observers = append(observers, progress.NewConsoleObserver(os.Stdout))
		}
		if deployRedisWatch {
			client, err := redisClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			observers = append(observers, progress.NewRedisPublisher(client))
		}
		if deployListen != "" {
			hub := progress.NewHub(deployOrigins...)
			stop, err := serveHub(deployListen, hub)
			if err != nil {
				return err
			}
			defer stop()
			observers = append(observers, hub)
		}
		o.Observer = observers

		result, err := o.Deploy(ctx, current, desired, strategy, deployConfigID)
		if err != nil {
			return err
		}
		if ok, err := structured(os.Stdout, result); ok {
			if err != nil {
				return err
			}
		} else {
			printResult(os.Stdout, result)
		}
		if !result.Success {
			return fmt.Errorf("deployment %s failed", result.DeploymentID)
		}
		return nil
	},
}

// serveHub exposes hub at /ws on addr until the returned stop is called.
func serveHub(addr string, hub *progress.Hub) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Warnf("progress server: %v", err)
		}
	}()
	fmt.Fprintf(os.Stderr, "Progress stream: ws://%s/ws\n", ln.Addr())

	return func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

// record writes e to the audit log, warning on failure.
func record(e *audit.Event) {
	if err := audit.Log(e); err != nil {
		util.Warnf("audit: %v", err)
	}
}

func init() {
	addWriteFlags(deployCmd)
	addOutputFlags(deployCmd)
	deployCmd.Flags().StringVar(&deployStrategy, "strategy", "", "Plan strategy: aggressive (default) or conservative")
	deployCmd.Flags().StringVar(&deployConfigID, "config-id", "", "Identifier of the desired configuration")
	deployCmd.Flags().BoolVar(&deployAskPass, "ask-pass", false, "Prompt for the device password")
	deployCmd.Flags().StringVar(&deployListen, "progress-listen", "", "Serve live progress over WebSocket on this address")
	deployCmd.Flags().StringSliceVar(&deployOrigins, "progress-origin", nil, "Extra browser origins allowed to connect")
	deployCmd.Flags().BoolVar(&deployRedisWatch, "redis-progress", false, "Publish progress to Redis")
	deployCmd.Flags().IntVar(&deployMaxDevices, "max-devices", 0, "Refuse plans touching more devices than this")
}
