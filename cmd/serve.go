package cmd

import (
	"context"
	"fmt"

	"funnel/internal/app"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath overrides the configuration directory.
var serveConfigPath string

// serveEnvFile loads environment variables from a dotenv file before
// configuration references are resolved.
var serveEnvFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the funnel proxy",
	Long: `Starts the proxy: connects every configured downstream MCP server,
serves the aggregated tool catalog on the configured HTTP endpoint, and keeps
connections alive with automatic reconnection.

Configuration is read from config.yaml in the configuration directory
(default ~/.config/funnel, override with --config-path). Environment
references like ${NAME} or ${NAME:default} are resolved at startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveEnvFile != "" {
		if err := godotenv.Load(serveEnvFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", serveEnvFile, err)
		}
	} else {
		// Best-effort load of a local .env; absence is fine.
		_ = godotenv.Load()
	}

	application, err := app.NewApplication(app.NewConfig(serveDebug, serveConfigPath))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Configuration directory (default ~/.config/funnel)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", "", "Load environment variables from this dotenv file")
	rootCmd.AddCommand(serveCmd)
}
