package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported
	serverPort  int
	serverHost  string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "reportree",
	Short: "Report execution tree service",
	Long:  `Reportree builds per-cohort metric reports as trees of persistent records and runs them on a background job queue.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd || cmd == metricsCmd {
			return nil
		}
		return loadConfig()
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd, versionCmd, metricsCmd)
}

// loadConfig runs the startup sequence (REQUIRED ORDER):
// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
// 2. Apply CLI overrides (highest priority)
// 3. Initialize logger
func loadConfig() error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("reportree.toml"); err == nil {
			configFiles = append(configFiles, "reportree.toml")
		} else if _, err := os.Stat("deployments/local/reportree.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/reportree.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	logger = common.InitLogger(config)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("mediawiki_driver", config.MediaWiki.Driver).
		Msg("Resolved configuration")

	return nil
}

func main() {
	defer common.RecoverWithCrashFile()

	common.LoadVersionFromFile()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
