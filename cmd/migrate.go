package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the profile and attempt tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("creating a logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		db, err := openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		if err := repository.NewVerificationRepository(db, logger).AutoMigrate(ctx); err != nil {
			return logging.NewOperationError("cmd.migrate", "", err)
		}
		logger.Info("schema migrated", zap.Strings("tables", []string{
			repository.ReferenceProfile{}.TableName(),
			repository.VerificationAttempt{}.TableName(),
		}))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
