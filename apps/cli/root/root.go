package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the Palmyra Reports operator CLI. Subcommands (auth, bootstrap, sql) are attached here.
var rootCmd = &cobra.Command{
	Use:           "palmyra-reports",
	Short:         "Palmyra Reports operator CLI",
	Long:          "Operator utilities for Palmyra Reports (signed tokens, password hashes, registry bootstrap, SQL gate checks).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
