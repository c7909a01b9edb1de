package parallel

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/oracle"
)

// planPrompt asks the oracle to split a request into a flat task list.
const planPrompt = `Split the following request into independent tasks that can run in
parallel against the available agents.

Request: %s
Available agents: %s

Respond with ONLY a JSON object in this exact shape:
{
  "tasks": [
    {
      "id": "short-unique-id",
      "description": "what this task does",
      "agent": "agent id from the available list",
      "fallback_agent": "optional alternative agent id",
      "priority": 5
    }
  ],
  "aggregation_strategy": "merge|select_best|combine|vote",
  "max_concurrency": 3
}`

// Plan is an oracle-produced layout for a flat parallel run.
type Plan struct {
	// Tasks is the flat list of independent tasks.
	Tasks []Task `json:"tasks"`
	// AggregationStrategy combines the task results.
	AggregationStrategy Strategy `json:"aggregation_strategy"`
	// MaxConcurrency bounds concurrently outstanding tasks, clamped to
	// [MinConcurrency, MaxConcurrency].
	MaxConcurrency int `json:"max_concurrency"`
}

// PlanParallelExecution asks the oracle for a flat task list plus an
// aggregation strategy and concurrency bound for the given request.
func (e *Executor) PlanParallelExecution(ctx context.Context, request string, availableAgents []string) (*Plan, error) {
	prompt := fmt.Sprintf(planPrompt, request, strings.Join(availableAgents, ", "))

	raw, err := e.oracle.Complete(ctx, oracle.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanning, err)
	}

	var plan Plan
	if err := oracle.DecodeJSON(raw, &plan); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrPlanning, err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks returned", ErrPlanning)
	}

	plan.MaxConcurrency = ClampConcurrency(plan.MaxConcurrency)
	if !plan.AggregationStrategy.Valid() {
		plan.AggregationStrategy = StrategyMerge
	}
	return &plan, nil
}
