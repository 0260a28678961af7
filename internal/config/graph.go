package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/stately-io/stately/internal/ir"
)

// LoadGraph reads an already-parsed desired graph from a JSON file. stately
// does not interpret configuration languages; whatever tool renders the
// desired resources hands them over in this form.
func LoadGraph(path string) (*ir.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file %s: %w", path, err)
	}

	var graph ir.Graph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse graph file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(graph.Resources))
	for _, rec := range graph.Resources {
		if rec.Type == "" || rec.Name == "" {
			return nil, fmt.Errorf("graph file %s: resource missing type or name", path)
		}
		addr := rec.Address()
		if seen[addr] {
			return nil, fmt.Errorf("graph file %s: duplicate resource address %q", path, addr)
		}
		seen[addr] = true
	}

	return &graph, nil
}
