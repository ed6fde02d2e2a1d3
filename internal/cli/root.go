package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/trivia/internal/config"
	"github.com/victornm/trivia/internal/server"
	"github.com/victornm/trivia/internal/telemetry"
)

// Execute runs the CLI.
func Execute() error {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "trivia",
		Short:         "Two-player trivia duel service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config (env CONFIG_PATH)")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))

	return cmd
}

// loadConfig loads the server config and installs the configured logger.
func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, c.Sections()); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	if err := telemetry.SetupLogger(c.Log, os.Stdout); err != nil {
		return c, fmt.Errorf("setup logger: %w", err)
	}

	if path == "" {
		slog.Warn("cli: no config file given, using defaults and environment")
	}

	return c, nil
}
