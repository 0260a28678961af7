package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/coordinator"
	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/provisioner"
)

var (
	destroyAutoApprove bool
	destroyProvisioner string
)

var destroyCmd = &cobra.Command{
	Use:   "destroy <path>",
	Short: "Delete all resources tracked at a state path",
	Long: `Applies an empty desired graph: every recorded resource is deleted in
reverse dependency order and an empty document is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
	destroyCmd.Flags().StringVar(&destroyProvisioner, "provisioner", "noop", "Provisioner to apply operations with")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	statePath := args[0]

	_, backends, coord, err := openCoordinator(ctx)
	if err != nil {
		return err
	}
	defer backends.Close()

	empty := &ir.Graph{}
	plan, err := coord.Plan(ctx, statePath, empty)
	if err != nil {
		return err
	}
	if !plan.Changes() {
		fmt.Println("Nothing to destroy.")
		return nil
	}

	fmt.Printf("Stately will destroy %d resources at %s:\n", plan.Summary.Delete, statePath)
	renderPlan(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	registry := provisioner.NewRegistry()
	if err := registry.Load(destroyProvisioner); err != nil {
		return err
	}
	prov, err := registry.Get(destroyProvisioner)
	if err != nil {
		return err
	}

	result, err := coord.Apply(ctx, statePath, empty, prov)
	if err != nil {
		var partial *coordinator.PartialApplyError
		if errors.As(err, &partial) {
			return fmt.Errorf("destroy failed at operation %d (%s); state reflects the deletions that succeeded: %w",
				partial.Index, partial.Address, partial.Err)
		}
		return fmt.Errorf("destroy failed: %w", err)
	}

	fmt.Printf("\nDestroy complete! Version %d: %d destroyed.\n", result.Version, result.Summary.Delete)
	return nil
}
