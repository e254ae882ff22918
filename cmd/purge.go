package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"klaerwerk.dev/araflow/internal/store"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete weeks older than a retention window",
	RunE:  runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)

	purgeCmd.Flags().Int("retention-days", 365, "delete weeks created more than this many days ago")
	bindDBFlags(purgeCmd, "purge")

	_ = viper.BindPFlag("purge.retention_days", purgeCmd.Flags().Lookup("retention-days"))
}

func runPurge(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	db, err := store.NewDB(dbConfigFromViper("purge", logger))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	weekStore, err := store.New(db, logger)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		return err
	}

	days := viper.GetInt("purge.retention_days")
	deleted, err := weekStore.PurgeOlderThan(context.Background(), days)
	if err != nil {
		logger.Error("purge failed", "error", err)
		return err
	}

	logger.Info("purge completed", "retention_days", days, "weeks_deleted", deleted)
	return nil
}
