// Package commands implements the fsd CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time by main.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "fsd",
	Short: "fsd - in-memory file storage daemon",
	Long: `fsd is a long-running process that maintains a bounded set of named
binary objects in memory on behalf of concurrent clients connecting over a
local AF_UNIX stream socket.

Use "fsd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the KEY=VALUE configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
