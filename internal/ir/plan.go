package ir

// Action is the kind of change an operation performs.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionNoOp   Action = "NOOP"
)

// Plan represents a calculated execution plan: the ordered set of operations
// transforming current state into the desired graph.
type Plan struct {
	Operations []*Operation   `json:"operations"`
	Summary    *PlanSummary   `json:"summary"`
	Outputs    map[string]any `json:"outputs,omitempty"`
}

// Changes reports whether the plan performs any work.
func (p *Plan) Changes() bool {
	return len(p.Operations) > 0
}

// Operation is one ordered step of a plan. Creates and updates carry the
// desired Record; deletes carry only Prior.
type Operation struct {
	Address string                    `json:"address"`
	Action  Action                    `json:"action"`
	Record  *ResourceRecord           `json:"resource,omitempty"`
	Prior   *ResourceRecord           `json:"prior,omitempty"`
	Diff    map[string]*AttributeDiff `json:"diff,omitempty"`
}

// AttributeDiff records a single attribute change within an operation.
type AttributeDiff struct {
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
	Action string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
	NoOp   int `json:"noop"`
}
