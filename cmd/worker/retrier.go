package worker

import (
	"context"

	"github.com/jmehdipour/cvpay/internal/app"
	"github.com/spf13/cobra"
)

var retrierCmd = &cobra.Command{
	Use:   "retrier",
	Short: "Process due webhook retries on every retry.interval tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd, "retrier", func(ctx context.Context, a *app.App) error {
			r := a.Retrier("worker")
			// the janitor owns cleanup in long-running mode
			r.CleanupChance = 0
			return r.Run(ctx)
		})
	},
}
