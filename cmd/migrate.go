package cmd

import (
	"fmt"

	"github.com/jmehdipour/cvpay/internal/app"
	"github.com/jmehdipour/cvpay/internal/db"
	"github.com/jmehdipour/cvpay/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Setup(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		// the DSN must carry multiStatements=true
		if _, err := sqlDB.ExecContext(cmd.Context(), migrations.InitSQL); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}

		log.Info("migration complete")
		return nil
	},
}
