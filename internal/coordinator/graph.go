package coordinator

import (
	"errors"
	"fmt"

	"github.com/stately-io/stately/internal/ir"
)

// ErrCycleDetected is a fatal configuration defect: the dependency relation
// among resources must be acyclic. Never retryable.
var ErrCycleDetected = errors.New("dependency cycle detected")

// dag is a directed acyclic graph of resources for dependency ordering.
type dag struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// buildDAG constructs a dependency graph from records. In strict mode a
// dependency naming an unknown address is an error; lenient mode drops such
// edges, which is what deletion ordering over a state document needs (the
// dependency may already be gone).
func buildDAG(records []*ir.ResourceRecord, strict bool) (*dag, error) {
	d := &dag{
		nodes: make(map[string]*dagNode),
	}

	for _, rec := range records {
		addr := rec.Address()
		d.nodes[addr] = &dagNode{addr: addr}
	}

	for _, rec := range records {
		addr := rec.Address()
		node := d.nodes[addr]

		for _, dep := range rec.DependsOn {
			if _, ok := d.nodes[dep]; !ok {
				if strict {
					return nil, fmt.Errorf("resource %s depends on unknown resource %s", addr, dep)
				}
				continue
			}
			node.edges = append(node.edges, dep)
		}
	}

	// Build reverse edges
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}

	return d, nil
}

// creationOrder returns resources in dependency-respecting creation order.
func (d *dag) creationOrder() []string {
	return d.order
}

// destructionOrder returns resources in reverse dependency order (safe for
// deletion).
func (d *dag) destructionOrder() []string {
	return d.revOrder
}

// dependencies returns the list of dependencies for a given address.
func (d *dag) dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// DependencyOrder resolves a desired graph into creation order plus the
// dependency edges per address, for callers that render the graph.
func DependencyOrder(graph *ir.Graph) ([]string, map[string][]string, error) {
	d, err := buildDAG(graph.Resources, true)
	if err != nil {
		return nil, nil, err
	}
	edges := make(map[string][]string, len(d.nodes))
	for addr := range d.nodes {
		edges[addr] = d.dependencies(addr)
	}
	return d.creationOrder(), edges, nil
}

// topoSort performs Kahn's algorithm for topological sorting.
func (d *dag) topoSort() ([]string, error) {
	inDegree := make(map[string]int)
	for addr := range d.nodes {
		inDegree[addr] = len(d.nodes[addr].edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("%w in resource graph", ErrCycleDetected)
	}

	return sorted, nil
}
