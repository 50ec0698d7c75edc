package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"igfetch/pkg/config"
	"igfetch/pkg/logger"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igfetch",
	Short: "Resilient Instagram media fetcher with account rotation",
	Long: `igfetch downloads media behind Instagram post, reel, share and story
links using a layered extraction strategy: an anonymous fast path over
public endpoints, falling back to an authenticated downloader backed by
a rotating pool of accounts with deterministic proxy assignment.

Accounts live in a pipe-separated pool file; their ban and usage state
is persisted next to it so restarts pick up where the pool left off.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .igfetch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`igfetch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with the global flags applied and
// initializes logging from the result.
func loadConfig(extraFlags map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	for k, v := range extraFlags {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	return cfg, nil
}
