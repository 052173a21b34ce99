package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
	"github.com/barnettlynn/dna424/internal/keystore"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

const appVersion = "1.0.0"

var (
	configPath  string
	verbose     bool
	logFormat   string
	readerIndex int
)

var rootCmd = &cobra.Command{
	Use:   "provisionctl",
	Short: "NTAG424 DNA provisioning toolkit",
	Long: `provisionctl v` + appVersion + `
Provision, inspect, and validate NTAG424 DNA tags configured for Secure
Dynamic Messaging (SDM).

This tool supports:
  - Three-session factory-to-provisioned key rotation and SDM setup
  - Factory-reset (FormatPICC) of previously provisioned tags
  - Read-only inspection of tag version and file settings
  - Offline SDM URL validation against the key store's replay counter`,
	Version: appVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&readerIndex, "reader", "r", -1, "reader index (overrides config.runtime.reader_index)")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(diagCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	format := cfg.Runtime.LogFormat
	if logFormat != "" {
		format = logFormat
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
}

func loadConfig(mode config.ValidationMode) (*config.Config, error) {
	cfg, err := config.LoadWithMode(configPath, mode)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	setupLogging(cfg)
	return cfg, nil
}

func openStore(cfg *config.Config) keystore.Store {
	return keystore.NewCSVStore(cfg.KeyStore.Path)
}

// connectReader resolves the effective reader index (flag overrides config)
// and connects, echoing which reader was picked so an operator with several
// attached readers can tell the selection was right.
func connectReader(cfg *config.Config) (*ntag424.Connection, error) {
	idx := readerIndex
	if idx < 0 && cfg.Runtime.ReaderIndex != nil {
		idx = *cfg.Runtime.ReaderIndex
	}
	if idx < 0 {
		idx = 0
	}
	conn, err := ntag424.Connect(idx)
	if err != nil {
		return nil, fmt.Errorf("connect to reader %d: %w", idx, err)
	}
	diagnostics.PrintSuccess(fmt.Sprintf("Using reader [%d]: %s", conn.ReaderIdx, conn.Reader))
	return conn, nil
}
