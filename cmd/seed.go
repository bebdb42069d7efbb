package cmd

import (
	"fmt"

	"github.com/jmehdipour/cvpay/internal/app"
	"github.com/jmehdipour/cvpay/internal/db"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Setup(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		if err := repository.NewPlansRepository(sqlDB).Upsert(cmd.Context(), app.DemoPlans); err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}

		log.Info("seed completed", zap.Int("plans", len(app.DemoPlans)))
		return nil
	},
}
