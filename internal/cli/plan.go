package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
)

var planGraphFile string

var planCmd = &cobra.Command{
	Use:   "plan <path>",
	Short: "Show the changes an apply would perform",
	Long: `Computes the diff between the stored state document and the desired
graph without locking and without invoking any provisioner.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planGraphFile, "graph", "g", "graph.json", "Desired graph file (JSON)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	statePath := args[0]

	graph, err := config.LoadGraph(planGraphFile)
	if err != nil {
		return err
	}

	_, backends, coord, err := openCoordinator(ctx)
	if err != nil {
		return err
	}
	defer backends.Close()

	plan, err := coord.Plan(ctx, statePath, graph)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if !plan.Changes() {
		fmt.Println("No changes. State matches the desired graph.")
		return nil
	}

	fmt.Printf("Stately will perform the following actions on %s:\n", statePath)
	renderPlan(plan)
	renderSummary(plan)
	return nil
}
