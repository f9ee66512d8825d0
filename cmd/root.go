// Package cmd is the pinchyd CLI: the runtime itself (run), database
// migration management for the optional Postgres backend, and config
// validation helpers.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pinchy/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/pinchy/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pinchyd",
	Short: "pinchy — multi-agent runtime",
	Long:  "Pinchy hosts long-lived autonomous agents, each with its own workspace, sessions, memory, skills, and schedule, behind a local HTTP/WebSocket gateway.",
	Run: func(cmd *cobra.Command, args []string) {
		runRuntime()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $PINCHY_CONFIG or <home>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the runtime (default when no subcommand is given)",
		Run: func(cmd *cobra.Command, args []string) {
			runRuntime()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pinchyd %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// resolveHome returns the runtime's root directory: PINCHY_HOME, or
// ~/.pinchy.
func resolveHome() string {
	if v := os.Getenv("PINCHY_HOME"); v != "" {
		return v
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".pinchy"
	}
	return filepath.Join(userHome, ".pinchy")
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("PINCHY_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(resolveHome(), "config.yaml")
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
