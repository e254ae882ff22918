package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"klaerwerk.dev/araflow/internal/server"
	"klaerwerk.dev/araflow/internal/store"
	"klaerwerk.dev/araflow/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the API server",
	Long: `Run the API server that:
- Accepts CSV telemetry uploads and stores them keyed by week
- Serves daily and weekly aggregates over HTTP JSON
- Detects and corrects outliers on stored weeks
- Persists data to PostgreSQL`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().Int("http-port", 8080, "HTTP server port")
	bindDBFlags(serverCmd, "server")

	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting API service")

	db, err := store.NewDB(dbConfigFromViper("server", logger))
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

	config := &server.Config{
		Logger:          logger,
		Store:           weekStore,
		HTTPPort:        viper.GetInt("server.http.port"),
		ServerMetrics:   metrics.NewServerMetrics(metrics.Namespace),
		PipelineMetrics: metrics.NewPipelineMetrics(metrics.Namespace),
	}

	srv, err := server.NewServer(config)
	if err != nil {
		logger.Error("failed to create API server", "error", err)
		return err
	}

	logger.Info("API server configuration",
		"http_port", config.HTTPPort,
		"db_host", viper.GetString("server.db.host"),
		"db_name", viper.GetString("server.db.name"),
	)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("API server error", "error", err)
		return err
	}

	logger.Info("API server stopped")
	return nil
}
