package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stately-io/stately/internal/config"
	"github.com/stately-io/stately/internal/coordinator"
)

var graphFile string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the desired graph's dependency order as DOT",
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().StringVarP(&graphFile, "graph", "g", "graph.json", "Desired graph file (JSON)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	graph, err := config.LoadGraph(graphFile)
	if err != nil {
		return err
	}

	order, edges, err := coordinator.DependencyOrder(graph)
	if err != nil {
		return err
	}

	fmt.Println("digraph resources {")
	fmt.Println("  rankdir = \"TB\";")
	for _, addr := range order {
		fmt.Printf("  %q;\n", addr)
	}
	addrs := make([]string, 0, len(edges))
	for addr := range edges {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		deps := edges[addr]
		sort.Strings(deps)
		for _, dep := range deps {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	fmt.Println("}")
	return nil
}
