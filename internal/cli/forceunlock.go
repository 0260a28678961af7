package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
)

var forceUnlockYes bool

var forceUnlockCmd = &cobra.Command{
	Use:     "force-unlock <path>",
	Aliases: []string{"unlock"},
	Short:   "Remove the lock on a state path regardless of holder",
	Long: `Deletes the lock entry without checking holder or fencing token. If the
original holder is still running, its next state write will be rejected
by the version check, but use this only when the holder is known dead.`,
	Args: cobra.ExactArgs(1),
	RunE: runForceUnlock,
}

func init() {
	forceUnlockCmd.Flags().BoolVar(&forceUnlockYes, "yes", false, "Skip confirmation")
}

func runForceUnlock(cmd *cobra.Command, args []string) error {
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

	if !forceUnlockYes {
		fmt.Printf("Lock on %s is held by %s (token %d, expires %s).\n",
			statePath, entry.Holder, entry.FencingToken, entry.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Print("Remove it anyway? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Force-unlock cancelled.")
			return nil
		}
	}

	if err := backends.Locks.ForceUnlock(ctx, statePath); err != nil {
		return fmt.Errorf("force-unlock failed: %w", err)
	}

	fmt.Printf("Lock on %s removed.\n", statePath)
	return nil
}
