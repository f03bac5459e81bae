// Package cli wires the commands of the leased binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leasify/leased/internal/config"
	"github.com/leasify/leased/internal/logging"
)

var (
	// Global flags
	configFile string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "leased",
	Short: "leased - event-sourced lease and payment orchestration service",
	Long: `leased manages lease agreements with equal-installment payment plans.
Every state change is recorded in an append-only ledger before it is
announced on the event bus, so the full history of any lease can be
audited or replayed.`,
	Version: "0.1.0-dev",
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig builds the effective configuration from the --conf file
// (when given), environment and defaults, honoring --debug.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(os.Stderr, cfg.Logging)
	return cfg, logger, nil
}
