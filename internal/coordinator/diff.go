package coordinator

import (
	"fmt"

	"github.com/stately-io/stately/internal/ir"
)

// buildPlan computes the ordered set of operations transforming current into
// the desired graph. Creates and updates follow the topological order of the
// desired dependency graph; deletes follow the reverse topological order of
// the recorded one. A cycle is detected here, before any side effect.
func buildPlan(current *ir.StateDocument, graph *ir.Graph) (*ir.Plan, error) {
	plan := &ir.Plan{
		Summary: &ir.PlanSummary{},
		Outputs: graph.Outputs,
	}

	desired := make(map[string]*ir.ResourceRecord, len(graph.Resources))
	for _, rec := range graph.Resources {
		addr := rec.Address()
		if _, dup := desired[addr]; dup {
			return nil, fmt.Errorf("duplicate resource address %q in desired graph", addr)
		}
		desired[addr] = rec
	}

	desiredDAG, err := buildDAG(graph.Resources, true)
	if err != nil {
		return nil, err
	}

	currentMap := make(map[string]*ir.ResourceRecord, len(current.Resources))
	for _, rec := range current.Resources {
		currentMap[rec.Address()] = rec
	}

	// Creates and updates, in creation order.
	for _, addr := range desiredDAG.creationOrder() {
		rec := desired[addr]
		prior, exists := currentMap[addr]

		if !exists {
			plan.Operations = append(plan.Operations, &ir.Operation{
				Address: addr,
				Action:  ir.ActionCreate,
				Record:  rec,
				Diff:    diffAttributes(nil, rec.Attributes),
			})
			plan.Summary.Create++
			continue
		}

		diff := diffAttributes(prior.Attributes, rec.Attributes)
		if len(diff) == 0 {
			plan.Summary.NoOp++
			continue
		}
		plan.Operations = append(plan.Operations, &ir.Operation{
			Address: addr,
			Action:  ir.ActionUpdate,
			Record:  rec,
			Prior:   prior,
			Diff:    diff,
		})
		plan.Summary.Update++
	}

	// Deletes: recorded resources absent from the desired graph, in
	// destruction order of the recorded dependency relation.
	currentDAG, err := buildDAG(current.Resources, false)
	if err != nil {
		return nil, err
	}
	for _, addr := range currentDAG.destructionOrder() {
		if _, wanted := desired[addr]; wanted {
			continue
		}
		prior := currentMap[addr]
		plan.Operations = append(plan.Operations, &ir.Operation{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior:   prior,
			Diff:    diffAttributes(prior.Attributes, nil),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// diffAttributes compares prior and desired attributes and returns the
// per-attribute changes. Empty result means no change.
func diffAttributes(prior, desired map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		if !inPrior {
			diff[k] = &ir.AttributeDiff{
				After:  desiredVal,
				Action: "create",
			}
		} else if !inDesired {
			diff[k] = &ir.AttributeDiff{
				Before: priorVal,
				Action: "delete",
			}
		} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal) {
			diff[k] = &ir.AttributeDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: "update",
			}
		}
	}

	return diff
}
