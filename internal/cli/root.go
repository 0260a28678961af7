package cli

import (
	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "stately",
	Short: "Versioned state storage with distributed locking",
	Long: `Stately coordinates infrastructure state: a versioned document store,
a distributed lock manager with fencing tokens, and a plan/apply cycle
driven by an external provisioner.

Each state path is an independently lockable, independently versioned
unit. Concurrent writers serialize through the lock manager; stale
writers are fenced off by the version check.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Settings file (default stately.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(forceUnlockCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
