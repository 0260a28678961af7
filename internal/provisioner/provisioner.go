package provisioner

import (
	"context"

	"github.com/stately-io/stately/internal/ir"
)

// Provisioner performs the actual side-effecting operation against the managed
// infrastructure. The coordinator treats it as opaque: potentially slow,
// potentially failing partway through a plan. For creates and updates the
// returned record carries the resolved outputs; for deletes the returned
// record is nil.
type Provisioner interface {
	Apply(ctx context.Context, op *ir.Operation) (*ir.ResourceRecord, error)
}

// Func adapts a function to the Provisioner interface.
type Func func(ctx context.Context, op *ir.Operation) (*ir.ResourceRecord, error)

func (f Func) Apply(ctx context.Context, op *ir.Operation) (*ir.ResourceRecord, error) {
	return f(ctx, op)
}
