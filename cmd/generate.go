package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"klaerwerk.dev/araflow/pkg/generator"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic plant CSV export",
	Long: `Generate a synthetic telemetry export for a fictional plant,
including the metadata preamble and the occasional duplicate or broken
row, so the ingest path can be exercised without real plant data.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("out", "", "output file (defaults to stdout)")
	generateCmd.Flags().Int64("seed", 0, "random seed (0 uses the current time)")
	generateCmd.Flags().Int("days", 7, "number of days to generate")
	generateCmd.Flags().String("start", "", "start date, YYYY-MM-DD (defaults to the start of the current week)")

	_ = viper.BindPFlag("generate.out", generateCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("generate.seed", generateCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("generate.days", generateCmd.Flags().Lookup("days"))
	_ = viper.BindPFlag("generate.start", generateCmd.Flags().Lookup("start"))
}

func runGenerate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	seed := viper.GetInt64("generate.seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	start := startOfWeek(time.Now().UTC())
	if s := viper.GetString("generate.start"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fmt.Errorf("invalid start date %q: %w", s, err)
		}
		start = parsed
	}

	out := os.Stdout
	if path := viper.GetString("generate.out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			logger.Error("failed to create output file", "path", path, "error", err)
			return err
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Error("failed to close output file", "error", err)
			}
		}()
		out = f
	}

	gen := generator.NewPlantGenerator(seed)
	days := viper.GetInt("generate.days")

	logger.Info("generating export",
		"plant", gen.PlantName,
		"start", start.Format("2006-01-02"),
		"days", days,
		"seed", seed,
	)

	return gen.WriteCSV(out, start, days)
}

// startOfWeek returns midnight on the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
