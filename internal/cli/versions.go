package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
	"github.com/stately-io/stately/internal/store"
)

var versionsCmd = &cobra.Command{
	Use:   "versions <path>",
	Short: "List the recorded versions of a state path",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

func runVersions(cmd *cobra.Command, args []string) error {
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

	infos, err := backends.Store.ListVersions(ctx, statePath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no state stored at %s", statePath)
		}
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No versions recorded for %s.\n", statePath)
		return nil
	}

	fmt.Printf("Versions of %s:\n", statePath)
	for _, info := range infos {
		fmt.Printf("  %6d  %s\n", info.Version, info.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
