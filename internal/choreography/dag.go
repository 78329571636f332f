package choreography

import (
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	unvisited = iota
	visiting
	visited
)

// findCycle runs a depth-first search over step -> dependency edges and
// returns the first cycle found, or nil. Steps and edges are walked in
// declaration order so the reported cycle is deterministic.
func findCycle(steps []types.WorkflowStep) []string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.Dependencies
	}

	state := make(map[string]int, len(steps))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		path = append(path, id)
		for _, d := range deps[id] {
			switch state[d] {
			case visiting:
				for i, p := range path {
					if p == d {
						cycle := append([]string(nil), path[i:]...)
						return append(cycle, d)
					}
				}
			case unvisited:
				if _, known := deps[d]; !known {
					continue
				}
				if c := visit(d); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = visited
		return nil
	}

	for _, s := range steps {
		if state[s.ID] == unvisited {
			if c := visit(s.ID); c != nil {
				return c
			}
		}
	}
	return nil
}

// ExecutionLevels groups steps into waves: every step in a wave depends only
// on steps in earlier waves. Steps keep declaration order within a wave.
func ExecutionLevels(workflowID string, steps []types.WorkflowStep) ([][]string, error) {
	remaining := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		remaining[s.ID] = len(s.Dependencies)
		for _, d := range s.Dependencies {
			dependents[d] = append(dependents[d], s.ID)
		}
	}

	var levels [][]string
	done := 0
	for done < len(steps) {
		var level []string
		for _, s := range steps {
			if n, ok := remaining[s.ID]; ok && n == 0 {
				level = append(level, s.ID)
			}
		}
		if len(level) == 0 {
			cycle := findCycle(steps)
			return nil, &CircularDependencyError{WorkflowID: workflowID, Cycle: cycle}
		}
		for _, id := range level {
			delete(remaining, id)
			for _, dep := range dependents[id] {
				remaining[dep]--
			}
		}
		done += len(level)
		levels = append(levels, level)
	}
	return levels, nil
}

// TopologicalOrder returns the step IDs in an order that respects every
// dependency.
func TopologicalOrder(workflowID string, steps []types.WorkflowStep) ([]string, error) {
	levels, err := ExecutionLevels(workflowID, steps)
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(steps))
	for _, l := range levels {
		order = append(order, l...)
	}
	return order, nil
}
