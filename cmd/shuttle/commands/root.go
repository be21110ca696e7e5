// Package commands implements the shuttle CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfgFile   string
	stateRoot string
	outFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shuttle",
	Short: "Shuttle - artifact synchronization engine",
	Long: `shuttle synchronizes artifacts between object storage and local disk.

Downloads are enqueued in a durable queue and drained by a single background
worker; large directory artifacts travel as chunked, checksummed bundles.

Use "shuttle [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/shuttle/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateRoot, "state-root", "", "State directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outFormat, "output", "o", "table", "Output format (table|json|yaml|plain)")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
