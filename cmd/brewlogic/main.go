// brewlogic runs multi-step beverage recipes on a connected coffee
// appliance.
//
// The appliance is reached through an MQTT bridge that mirrors its entities
// (drink selector, start switch, auxiliary switches and fault sensors).
// Recipes live in a YAML file; runs are driven over the HTTP API and
// published to MQTT and WebSocket clients as they progress.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default file locations.
const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
}

// newRootCmd builds the command tree. Running the root command alone
// starts the server.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	serve := &serveOptions{global: opts}

	root := &cobra.Command{
		Use:           "brewlogic",
		Short:         "Beverage recipe execution for connected coffee appliances",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), serve)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file applied before environment overrides")
	root.Flags().BoolVar(&serve.simulate, "simulate", false, "drive a simulated appliance instead of the MQTT bridge")

	root.AddCommand(
		newServeCmd(serve),
		newRecipesCmd(opts),
		newTokenCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of brewlogic",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brewlogic %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// Uses BREWLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BREWLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
