// Package cmd implements the CLI commands for coopcam.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/observability"
	"github.com/coopcam/coopcam/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "coopcam",
	Short:   "Multi-camera MJPEG proxy with motion detection and recording",
	Version: version.Short(),
	Long: `coopcam mirrors one or more MJPEG cameras (DroidCam phones among them)
to any number of HTTP viewers, runs a shadow-tolerant motion detection
pipeline over a downsampled frame tap, pushes motion events to browsers
over SSE, and records motion-triggered MP4 clips with pre-motion context.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Flags are not bound to viper; loadConfig applies them only when
	// explicitly set, preserving flag > env > file > default priority.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/coopcam, $HOME/.coopcam)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig loads the effective configuration, applying any explicitly set
// persistent flags on top.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	// Re-validate: flag overrides bypass the checks Load already ran.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// initLogging builds the process logger from the loaded config and installs
// it as the slog default. The observability factory applies secret
// redaction, so the pause password never reaches the logs.
func initLogging(cfg *config.Config) {
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
}
