package executor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// resolveAgent picks the agent that will run step.
//
// An explicit agent must exist, must not be offline and must advertise the
// capability. Otherwise candidates advertising the capability are filtered
// by the step selector; online agents are preferred to busy ones, then the
// highest health score wins with the agent ID as tie-break. Agents without
// a health sample score 1.
func (x *Executor) resolveAgent(step *types.WorkflowStep) (string, error) {
	if step.AgentID != "" {
		agent, err := x.agents.Get(step.AgentID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoAgent, err)
		}
		if agent.Status == types.AgentStatusOffline {
			return "", fmt.Errorf("%w: agent %s is offline", ErrNoAgent, agent.ID)
		}
		if _, ok := agent.Capability(step.Capability); !ok {
			return "", fmt.Errorf("%w: agent %s does not advertise %q", ErrNoAgent, agent.ID, step.Capability)
		}
		return agent.ID, nil
	}

	filter := types.AgentFilter{
		Statuses: []types.AgentStatus{types.AgentStatusOnline, types.AgentStatusBusy},
	}
	if step.Selector != nil {
		filter.Types = step.Selector.Types
		filter.Tags = step.Selector.Tags
	}

	var candidates []*types.RegisteredAgent
	for _, agent := range x.agents.Query(filter) {
		if _, ok := agent.Capability(step.Capability); ok {
			candidates = append(candidates, agent)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: capability %q", ErrNoAgent, step.Capability)
	}

	scores := x.agents.HealthScores()
	score := func(id string) float64 {
		if s, ok := scores[id]; ok {
			return s
		}
		return 1
	}

	best := slices.MinFunc(candidates, func(a, b *types.RegisteredAgent) int {
		if a.Status != b.Status {
			if a.Status == types.AgentStatusOnline {
				return -1
			}
			if b.Status == types.AgentStatusOnline {
				return 1
			}
		}
		sa, sb := score(a.ID), score(b.ID)
		if sa != sb {
			if sa > sb {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return best.ID, nil
}
