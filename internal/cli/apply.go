package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
	"github.com/stately-io/stately/internal/coordinator"
	"github.com/stately-io/stately/internal/lock"
	"github.com/stately-io/stately/internal/provisioner"
)

var (
	applyGraphFile   string
	applyAutoApprove bool
	applyProvisioner string
	applyLockRetries int
)

var applyCmd = &cobra.Command{
	Use:   "apply <path>",
	Short: "Apply the desired graph to a state path",
	Long: `Acquires the lock on the state path, reads the current document, computes
the diff against the desired graph, runs the provisioner once per ordered
operation and writes the new document. A partial failure persists the
operations that succeeded; nothing is rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyGraphFile, "graph", "g", "graph.json", "Desired graph file (JSON)")
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringVar(&applyProvisioner, "provisioner", "noop", "Provisioner to apply operations with")
	applyCmd.Flags().IntVar(&applyLockRetries, "lock-retries", 0, "Retries with backoff when the path is locked (0 = fail fast)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	statePath := args[0]

	graph, err := config.LoadGraph(applyGraphFile)
	if err != nil {
		return err
	}

	settings, backends, coord, err := openCoordinator(ctx)
	if err != nil {
		return err
	}
	defer backends.Close()

	registry := provisioner.NewRegistry()
	if err := registry.Load(applyProvisioner); err != nil {
		return err
	}
	prov, err := registry.Get(applyProvisioner)
	if err != nil {
		return err
	}

	// Reap expired locks in the background while the apply runs.
	sweep, err := settings.Sweep()
	if err != nil {
		return err
	}
	sweeper := lock.NewSweeper(backends.Locks, sweep)
	sweeper.Start()
	defer sweeper.Stop()

	fmt.Print("Calculating plan... ")
	plan, err := coord.Plan(ctx, statePath, graph)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if !plan.Changes() {
		fmt.Println("No changes. State matches the desired graph.")
		return nil
	}

	fmt.Printf("\nStately will perform the following actions on %s:\n", statePath)
	renderPlan(plan)
	renderSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d operations...\n", len(plan.Operations))

	// Lock contention is retried here, not inside the coordinator.
	policy := &coordinator.RetryPolicy{
		MaxRetries: applyLockRetries,
		BaseDelay:  coordinator.DefaultRetryPolicy().BaseDelay,
		MaxDelay:   coordinator.DefaultRetryPolicy().MaxDelay,
	}
	var result *coordinator.Result
	err = coordinator.RetryWithBackoff(ctx, policy, func() error {
		var applyErr error
		result, applyErr = coord.Apply(ctx, statePath, graph, prov)
		return applyErr
	}, coordinator.IsRetryable)
	if err != nil {
		var partial *coordinator.PartialApplyError
		if errors.As(err, &partial) {
			return fmt.Errorf("apply failed at operation %d (%s); state reflects the operations that succeeded: %w",
				partial.Index, partial.Address, partial.Err)
		}
		return fmt.Errorf("apply failed: %w", err)
	}

	fmt.Printf("\nApply complete! Version %d: %d added, %d changed, %d destroyed.\n",
		result.Version, result.Summary.Create, result.Summary.Update, result.Summary.Delete)

	if len(result.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		renderOutputs(result.Outputs)
	}

	return nil
}
