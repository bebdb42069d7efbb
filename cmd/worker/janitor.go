package worker

import (
	"context"

	"github.com/jmehdipour/cvpay/internal/app"
	"github.com/spf13/cobra"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Delete retry queue rows older than retry.cleanup_days on every retry.cleanup_interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd, "janitor", func(ctx context.Context, a *app.App) error {
			return a.Janitor().Run(ctx)
		})
	},
}
