package models

import "time"

// Strategy identifies how a task will be executed.
type Strategy string

const (
	// StrategySingleAgent runs the task on one capable executor.
	StrategySingleAgent Strategy = "single_agent"
	// StrategyOrchestrator decomposes the task into a subtask graph
	// distributed across the worker pool.
	StrategyOrchestrator Strategy = "orchestrator_worker"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySingleAgent, StrategyOrchestrator:
		return true
	default:
		return false
	}
}

// orchestrationThreshold is the complexity score above which a task is
// decomposed rather than run on a single agent.
const orchestrationThreshold = 0.7

// ComplexityAnalysis is the ephemeral, per-task result of complexity scoring.
type ComplexityAnalysis struct {
	// Score is the normalized complexity in [0,1].
	Score float64 `json:"score"`
	// Factors lists the signals that contributed to the score.
	Factors []string `json:"factors,omitempty"`
	// EstimatedTime is the predicted end-to-end execution time.
	EstimatedTime time.Duration `json:"estimated_time"`
	// Complexity is a coarse label: "low", "medium", or "high".
	Complexity string `json:"complexity"`
	// RecommendedStrategy is derived from Score.
	RecommendedStrategy Strategy `json:"recommended_strategy"`
}

// StrategyForScore maps a complexity score to an execution strategy.
// Scores at or below the orchestration threshold run single-agent;
// anything above is decomposed.
func StrategyForScore(score float64) Strategy {
	if score > orchestrationThreshold {
		return StrategyOrchestrator
	}
	return StrategySingleAgent
}

// ComplexityLabel maps a score to its coarse label.
func ComplexityLabel(score float64) string {
	switch {
	case score <= 0.3:
		return "low"
	case score <= orchestrationThreshold:
		return "medium"
	default:
		return "high"
	}
}
