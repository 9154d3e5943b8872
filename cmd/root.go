package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
)

// rootCmd is the entry point when funnel is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Aggregate multiple MCP servers behind a single endpoint",
	Long: `funnel exposes one MCP server surface to an upstream client while
fanning requests out to any number of downstream MCP servers over stdio or
SSE/HTTP. Tool catalogs are unified under namespaced names, rewritten through
configurable overrides, and kept fresh across reconnects.`,
	// SilenceUsage keeps handled errors from echoing the usage text.
	SilenceUsage: true,
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "funnel version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}
