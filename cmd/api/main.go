// Command api runs the opsdesk work item service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "opsdesk",
	Short: "Work item approval service",
	Long: `opsdesk tracks work items through their approval workflow and pushes
live notifications to the owner and reviewer of each item.

Examples:
  opsdesk serve                      # HTTP API and WebSocket on :8080
  opsdesk serve --config opsdesk.yaml
  opsdesk migrate                    # apply database migrations`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
