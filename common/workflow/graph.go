package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowpilot/flowpilot/common/models"
)

// TopoSort orders nodes so every node appears after all of its depends_on
// targets. The sort is stable: among ready nodes, document order wins.
// A cycle yields an error naming the nodes involved.
func TopoSort(nodes []*models.Node) ([]*models.Node, error) {
	position := make(map[string]int, len(nodes))
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))

	for i, node := range nodes {
		position[node.ID] = i
		indegree[node.ID] = 0
	}
	for _, node := range nodes {
		for _, dep := range node.DependsOn {
			if _, exists := position[dep]; !exists {
				return nil, fmt.Errorf("node %q depends on unknown node %q", node.ID, dep)
			}
			indegree[node.ID]++
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	ready := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if indegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	byID := make(map[string]*models.Node, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}

	sorted := make([]*models.Node, 0, len(nodes))
	for len(ready) > 0 {
		// document order among ready nodes keeps the sort stable
		sort.Slice(ready, func(i, j int) bool {
			return position[ready[i]] < position[ready[j]]
		})
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, byID[id])

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(nodes) {
		var cycle []string
		for id, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("dependency cycle involving nodes: %s", strings.Join(cycle, ", "))
	}
	return sorted, nil
}
