package types

import "time"

// ChoreographyMetrics is a derived snapshot of orchestrator activity.
type ChoreographyMetrics struct {
	TotalWorkflows       int                `json:"total_workflows"`
	CompletedWorkflows   int                `json:"completed_workflows"`
	FailedWorkflows      int                `json:"failed_workflows"`
	ActiveExecutions     int                `json:"active_executions"`
	SuccessRate          float64            `json:"success_rate"`
	AverageExecutionTime time.Duration      `json:"average_execution_time_ns"`
	AgentHealthScores    map[string]float64 `json:"agent_health_scores"`
	RegisteredAgents     int                `json:"registered_agents"`
	DefinedWorkflows     int                `json:"defined_workflows"`
}
