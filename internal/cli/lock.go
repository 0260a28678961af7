package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
)

var lockCmd = &cobra.Command{
	Use:   "lock <path>",
	Short: "Inspect the lock on a state path",
	Args:  cobra.ExactArgs(1),
	RunE:  runLock,
}

func runLock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	statePath := args[0]

	settings, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	backends, err := config.Open(ctx, settings)
	if err != nil {
		return err
	}
	defer backends.Close()

	entry, err := backends.Locks.Inspect(ctx, statePath)
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Printf("%s is not locked.\n", statePath)
		return nil
	}

	fmt.Printf("Lock on %s:\n", statePath)
	fmt.Printf("  Holder:   %s\n", entry.Holder)
	fmt.Printf("  Token:    %d\n", entry.FencingToken)
	fmt.Printf("  Acquired: %s\n", entry.AcquiredAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  Expires:  %s\n", entry.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
