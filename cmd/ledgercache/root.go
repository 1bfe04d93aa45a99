package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgercache/pkg/ledger"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// Global flag values.
var (
	flagConfig  string
	flagVerbose bool
)

// cfg is loaded by PersistentPreRunE for all subcommands.
var cfg types.Config

var rootCmd = &cobra.Command{
	Use:     "ledgercache",
	Short:   "Inspect and maintain the local ledger cache",
	Version: ledger.Version,
	// Do not print usage on errors returned by subcommands.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var err error
		cfg, err = loadConfig(flagConfig)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./ledger.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(versionCmd)
}
