package main

import (
	_ "embed"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerolation/ethereum-interop-viz/internal/logger"
)

//go:embed config.example.yml
var configExample []byte

var rootCmd = &cobra.Command{
	Use:   "interop-viz",
	Short: "Live dashboard of per-client slot observations across Ethereum networks",
	// Running without a subcommand serves the dashboard.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	addFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, snapshotCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("INIT", "%v", err)
		os.Exit(1)
	}
}
