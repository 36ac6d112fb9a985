package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtdeploy/pkg/cli"
	"github.com/newtron-network/newtdeploy/pkg/progress"
)

var watchCmd = &cobra.Command{
	Use:   "watch <deployment-id>",
	Short: "Follow a deployment's progress from Redis",
	Long: `Subscribe to the progress channel of a deployment started with
--redis-progress and print its log until it finishes.

Examples:
  newtdeploy watch 3f1c0c8e-5d4f-4d62-9b38-0f5a2c8e1a77`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := redisClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		updates, err := progress.Subscribe(ctx, client, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Watching %s on %s\n", args[0], progress.Channel(args[0]))

		console := progress.NewConsoleObserver(os.Stdout)
		last := ""
		for s := range updates {
			console.Publish(s.DeploymentID, s)
			last = s.Status
		}
		if last == "" {
			return ctx.Err()
		}
		fmt.Printf("\nDeployment %s %s\n", args[0], cli.Status(last))
		return nil
	},
}
