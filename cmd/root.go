// Package cmd contains the safelex command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/safelex/safelex/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "safelex",
	Short: "safelex - assistente per la sicurezza sul lavoro (D.Lgs 81/2008)",
	Long: `safelex is a rate-limited, retrieval-augmented chat gateway for Italian
workplace-safety questions (D.Lgs 81/2008).

It answers questions through a configured AI provider, grounds answers in an
indexed corpus of normative documents, and meters usage per caller identity.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process logger. Log level is controlled by the
// DEBUG environment variable; output goes to stderr.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo, JSON: true}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
		cfg.JSON = false
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}
