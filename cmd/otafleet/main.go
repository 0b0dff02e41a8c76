// Otafleet is the operator CLI for an otafleet-server.
//
// It shows the devices the server has seen, approves or denies them, swaps
// the served firmware and finds servers on the local network.
//
// Usage:
//
//	otafleet [command] [flags]
//
// Running without arguments opens the live dashboard.
// See 'otafleet --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/otafleet/internal/logging"
	"github.com/muurk/otafleet/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "otafleet",
	Short: "OTA fleet operator CLI",
	Long: `Watch and manage the devices talking to an otafleet-server.

The server is taken from --server, then OTAFLEET_SERVER, then
http://localhost:8080.

If no command is specified, the live dashboard opens.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silent unless OTAFLEET_LOG_LEVEL is set.
		return logging.InitializeFromEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, args)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("otafleet %s (commit: %s)\n", version.Version, version.Commit)
	},
}
