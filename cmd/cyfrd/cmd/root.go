// Package cmd provides the cyfrd CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyfrworks/cyfr/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cyfrd",
	Short: "cyfr - sandboxed WASM component execution and governance plane",
	Long: `cyfrd is the MCP-speaking governance plane for sandboxed WASM
component execution: catalysts, reagents, and formulas run under host
policy inside a wazero sandbox, with every decision, grant, and denial
recorded to an append-only audit trail.

Quick start:
  1. Create a config file: cyfr.yaml
  2. Run: cyfrd serve

Configuration:
  Config is loaded from cyfr.yaml or cyfr.yml in the current directory,
  $HOME/.cyfr/, or /etc/cyfr/.

  Environment variables override config values with the CYFR_ prefix.
  Example: CYFR_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the MCP transport server
  reset       Remove the persisted database and component store
  hash-key    Generate SHA-256 hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cyfr.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
