package noop

import (
	"context"
	"fmt"

	"github.com/stately-io/stately/internal/ir"
)

// Provisioner is a built-in provisioner that performs no external side
// effects. Creates and updates echo the desired attributes back as outputs
// with a synthetic id; deletes succeed unconditionally. Useful for exercising
// the coordination flow without touching real infrastructure.
type Provisioner struct{}

func New() *Provisioner {
	return &Provisioner{}
}

func (p *Provisioner) Apply(ctx context.Context, op *ir.Operation) (*ir.ResourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch op.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		if op.Record == nil {
			return nil, fmt.Errorf("%s operation for %s carries no desired record", op.Action, op.Address)
		}
		resolved := op.Record.Clone()
		resolved.Outputs = map[string]any{
			"id": fmt.Sprintf("noop-%s", op.Record.Name),
		}
		for k, v := range resolved.Attributes {
			resolved.Outputs[k] = v
		}
		return resolved, nil

	case ir.ActionDelete:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported action %q for %s", op.Action, op.Address)
	}
}
