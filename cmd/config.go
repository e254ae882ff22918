package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"klaerwerk.dev/araflow/internal/store"
	"klaerwerk.dev/araflow/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/araflow/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("ARAFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	format := logger.FormatJSON
	if viper.GetString("log.format") == "text" {
		format = logger.FormatText
	}

	return logger.New(&logger.Config{
		Level:  logger.ParseLevel(strings.ToLower(viper.GetString("log.level"))),
		Format: format,
	})
}

// bindDBFlags registers the shared database flags on a subcommand and binds
// them under the given viper prefix.
func bindDBFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	cmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	cmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	cmd.Flags().String("db-password", "", "PostgreSQL password")
	cmd.Flags().String("db-name", "araflow", "PostgreSQL database name")
	cmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")

	_ = viper.BindPFlag(prefix+".db.host", cmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag(prefix+".db.port", cmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag(prefix+".db.user", cmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag(prefix+".db.password", cmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag(prefix+".db.name", cmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag(prefix+".db.sslmode", cmd.Flags().Lookup("db-sslmode"))
}

// dbConfigFromViper builds a store.DBConfig from the given prefix.
func dbConfigFromViper(prefix string, log *slog.Logger) *store.DBConfig {
	return &store.DBConfig{
		Logger:   log,
		Host:     viper.GetString(prefix + ".db.host"),
		Port:     viper.GetInt(prefix + ".db.port"),
		User:     viper.GetString(prefix + ".db.user"),
		Password: viper.GetString(prefix + ".db.password"),
		DBName:   viper.GetString(prefix + ".db.name"),
		SSLMode:  viper.GetString(prefix + ".db.sslmode"),
	}
}
