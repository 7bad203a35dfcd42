package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xaenox/edubot/internal/storage"
	"github.com/xaenox/edubot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "edubot",
		Short:         "A chatbot that learns from user feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger shared by all commands.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	path, _ := cmd.Flags().GetString("config")

	// Initialize logger
	logger, err := zap.NewProduction()
	if debug {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err), zap.String("path", path))
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		logger.Info("Using SQLite storage")
		return storage.NewSQLiteStorage(ctx, cfg.Path, logger)
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		return storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
