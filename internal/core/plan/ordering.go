package plan

import (
	"github.com/mfeldt/stackup/internal/core/stack"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// Ranks partitions the services of a graph into topological ranks.
// For every edge (A depends_on B), B is placed in a strictly earlier rank
// than A, so all of rank N can be made ready before anything in rank N+1
// starts, and services within one rank are independent of each other.
//
// Ranks are computed by peeling sinks: the last rank is the set of services
// no other service depends on, and earlier ranks follow by removing each
// peeled layer. A service is therefore scheduled as close to its dependents
// as possible, which keeps services that gate the same dependent in one
// concurrent rank.
//
// Within a rank, services keep their declaration order, which makes the
// result stable and deterministic.
//
// Returns CycleError naming the cycle members if the graph is not a DAG.
//
// Example:
//
//	// backend depends_on db; proxy depends_on backend, frontend
//	Ranks(g) // [[db], [backend, frontend], [proxy]]
func Ranks(g *stack.Graph) ([][]stack.Service, error) {
	if len(g.Services) == 0 {
		return nil, nil
	}

	remaining := make(map[string]bool, len(g.Services))
	for _, svc := range g.Services {
		remaining[svc.Name] = true
	}

	// Peeled layers, last rank first.
	var peeled [][]stack.Service

	for len(remaining) > 0 {
		// dependedOn marks services some remaining service depends on.
		dependedOn := make(map[string]bool)
		for _, svc := range g.Services {
			if !remaining[svc.Name] {
				continue
			}
			for _, dep := range svc.DependsOn {
				if remaining[dep] {
					dependedOn[dep] = true
				}
			}
		}

		var layer []stack.Service
		for _, svc := range g.Services {
			if remaining[svc.Name] && !dependedOn[svc.Name] {
				layer = append(layer, svc)
			}
		}
		if len(layer) == 0 {
			// No progress: every remaining service is depended on by
			// another remaining service, so a cycle exists.
			return nil, &CycleError{Members: cycleMembers(g, remaining)}
		}
		for _, svc := range layer {
			delete(remaining, svc.Name)
		}
		peeled = append(peeled, layer)
	}

	// Reverse the peel order to obtain start order ranks.
	ranks := make([][]stack.Service, len(peeled))
	for i, layer := range peeled {
		ranks[len(peeled)-1-i] = layer
	}
	return ranks, nil
}

// StartOrder produces a linear start order: for every dependency edge
// (A depends_on B), B precedes A. Ties among independent services are broken
// by declaration order within each rank. The order is the rank partition
// flattened.
func StartOrder(g *stack.Graph) ([]stack.Service, error) {
	ranks, err := Ranks(g)
	if err != nil {
		return nil, err
	}

	var order []stack.Service
	for _, rank := range ranks {
		order = append(order, rank...)
	}
	return order, nil
}

// cycleMembers names the services on a dependency cycle.
//
// The stuck set after a partial peel contains cycle members plus services
// a cycle member depends on. Those upstream services are trimmed by
// repeatedly removing stuck services that themselves depend on no other
// stuck service; what remains is exactly the cycle(s).
func cycleMembers(g *stack.Graph, remaining map[string]bool) []string {
	stuck := make(map[string]bool, len(remaining))
	for name := range remaining {
		stuck[name] = true
	}

	for {
		removed := false
		for _, svc := range g.Services {
			if !stuck[svc.Name] {
				continue
			}
			dependsOnStuck := false
			for _, dep := range svc.DependsOn {
				if stuck[dep] {
					dependsOnStuck = true
					break
				}
			}
			if !dependsOnStuck {
				delete(stuck, svc.Name)
				removed = true
			}
		}
		if !removed {
			break
		}
	}

	var members []string
	for _, svc := range g.Services {
		if stuck[svc.Name] {
			members = append(members, svc.Name)
		}
	}
	return members
}
