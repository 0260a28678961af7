package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
	"github.com/stately-io/stately/internal/store"
)

var showVersion int64

var showCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print the state document stored at a path",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().Int64VarP(&showVersion, "version", "v", 0, "Historical version to show (0 = current)")
}

func runShow(cmd *cobra.Command, args []string) error {
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

	var doc any
	var version int64
	if showVersion > 0 {
		d, err := backends.Store.ReadVersion(ctx, statePath, showVersion)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no version %d recorded for %s", showVersion, statePath)
			}
			return err
		}
		doc, version = d, showVersion
	} else {
		d, v, err := backends.Store.Read(ctx, statePath)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no state stored at %s", statePath)
			}
			return err
		}
		doc, version = d, v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render state document: %w", err)
	}

	fmt.Printf("# %s (version %d)\n%s\n", statePath, version, data)
	return nil
}
