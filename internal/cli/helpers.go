package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/stately-io/stately/internal/config"
	"github.com/stately-io/stately/internal/coordinator"
	"github.com/stately-io/stately/internal/ir"
)

// openCoordinator loads settings, opens the configured backend and builds a
// coordinator on top. The returned Backends must be closed by the caller.
func openCoordinator(ctx context.Context) (*config.Settings, *config.Backends, *coordinator.Coordinator, error) {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}

	backends, err := config.Open(ctx, settings)
	if err != nil {
		return nil, nil, nil, err
	}

	ttl, err := settings.TTL()
	if err != nil {
		backends.Close()
		return nil, nil, nil, err
	}

	coord := coordinator.New(backends.Store, backends.Locks, settings.Holder, ttl)
	return settings, backends, coord, nil
}

// colorize returns the ANSI code unless colors are disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

// renderPlan prints the detailed operation list for a plan.
func renderPlan(plan *ir.Plan) {
	for _, op := range plan.Operations {
		symbol := "~"
		color := colorize("\033[33m")
		switch op.Action {
		case ir.ActionCreate:
			symbol = "+"
			color = colorize("\033[32m")
		case ir.ActionDelete:
			symbol = "-"
			color = colorize("\033[31m")
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, op.Address, op.Action, colorize("\033[0m"))
		fmt.Printf("%s  %s resource %q {\n", color, symbol, op.Address)
		renderAttributeDiff(op)
		fmt.Printf("%s    }%s\n", color, colorize("\033[0m"))
	}
}

// renderAttributeDiff prints structured attribute diffs in a stable order.
func renderAttributeDiff(op *ir.Operation) {
	keys := make([]string, 0, len(op.Diff))
	for k := range op.Diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		diff := op.Diff[key]
		switch diff.Action {
		case "create":
			fmt.Printf("%s      + %s = %v%s\n", colorize("\033[32m"), key, formatValue(diff.After), colorize("\033[0m"))
		case "delete":
			fmt.Printf("%s      - %s = %v%s\n", colorize("\033[31m"), key, formatValue(diff.Before), colorize("\033[0m"))
		case "update":
			fmt.Printf("%s      ~ %s = %v -> %v%s\n", colorize("\033[33m"), key, formatValue(diff.Before), formatValue(diff.After), colorize("\033[0m"))
		default:
			fmt.Printf("        %s = %v\n", key, formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderSummary prints the plan summary counts.
func renderSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create: %d\n", plan.Summary.Create)
	fmt.Printf("  Update: %d\n", plan.Summary.Update)
	fmt.Printf("  Delete: %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:   %d\n", plan.Summary.NoOp)
}

// renderOutputs prints the output values in a stable order.
func renderOutputs(outputs map[string]any) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("  %s = %v\n", k, formatValue(outputs[k]))
	}
}
