package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"klaerwerk.dev/araflow/internal/pipeline"
	"klaerwerk.dev/araflow/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CSV export from disk",
	Long: `Parse a plant CSV export, normalize and deduplicate its rows, and
store the result as a week. Start and end dates default to the values in
the export's metadata preamble.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("file", "", "path to the CSV export (required)")
	importCmd.Flags().String("start-date", "", "week start date (defaults to the export's Start Time)")
	importCmd.Flags().String("end-date", "", "week end date (defaults to the export's End Time)")
	importCmd.Flags().String("data-type", store.DataTypeBoth, "data type (telemetry, totalAmount, both)")
	bindDBFlags(importCmd, "import")

	_ = importCmd.MarkFlagRequired("file")

	_ = viper.BindPFlag("import.file", importCmd.Flags().Lookup("file"))
	_ = viper.BindPFlag("import.start_date", importCmd.Flags().Lookup("start-date"))
	_ = viper.BindPFlag("import.end_date", importCmd.Flags().Lookup("end-date"))
	_ = viper.BindPFlag("import.data_type", importCmd.Flags().Lookup("data-type"))
}

func runImport(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	path := viper.GetString("import.file")
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read export", "path", path, "error", err)
		return err
	}

	res := pipeline.ParseCSV(string(raw))
	if len(res.Records) == 0 {
		return errors.New("export contains no usable records")
	}

	logger.Info("parsed export",
		"path", path,
		"records", len(res.Records),
		"skipped", res.Skipped,
		"duplicates", res.Duplicates,
	)

	startDate := viper.GetString("import.start_date")
	if startDate == "" {
		startDate = pipeline.Record{Time: res.Metadata[pipeline.MetaStartTime]}.DateToken()
	}
	endDate := viper.GetString("import.end_date")
	if endDate == "" {
		endDate = pipeline.Record{Time: res.Metadata[pipeline.MetaEndTime]}.DateToken()
	}
	if startDate == "" || endDate == "" {
		return errors.New("start and end dates missing from both flags and export metadata")
	}

	db, err := store.NewDB(dbConfigFromViper("import", logger))
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

	weekID, err := weekStore.SaveWeek(context.Background(), startDate, endDate,
		viper.GetString("import.data_type"), res.Records, nil)
	if err != nil {
		logger.Error("failed to save week", "error", err)
		return err
	}

	logger.Info("week imported", "week_id", weekID, "records", len(res.Records))

	aggregates := pipeline.NewAggregator().Aggregate(res.Records)
	out, err := json.MarshalIndent(map[string]any{
		"weekId":           weekID,
		"dailyAggregates":  aggregates.Daily,
		"weeklyAggregates": aggregates.Weekly,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render aggregates: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
