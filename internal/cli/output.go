package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
	"github.com/stately-io/stately/internal/store"
)

var outputCmd = &cobra.Command{
	Use:   "output <path> [name]",
	Short: "Print output values from the stored state",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runOutput,
}

func runOutput(cmd *cobra.Command, args []string) error {
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

	doc, _, err := backends.Store.Read(ctx, statePath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no state stored at %s", statePath)
		}
		return err
	}

	if len(args) == 2 {
		name := args[1]
		value, ok := doc.Outputs[name]
		if !ok {
			return fmt.Errorf("output %q not found in state at %s", name, statePath)
		}
		fmt.Println(formatValue(value))
		return nil
	}

	if len(doc.Outputs) == 0 {
		fmt.Println("No outputs recorded.")
		return nil
	}
	renderOutputs(doc.Outputs)
	return nil
}
