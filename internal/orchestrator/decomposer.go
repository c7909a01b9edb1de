package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// ErrDecomposition indicates task decomposition failed or produced an
// invalid subtask graph.
var ErrDecomposition = errors.New("decomposition failed")

// decompositionPrompt asks the oracle to break a task into a subtask DAG.
const decompositionPrompt = `Decompose the following task into subtasks that can be distributed
across a pool of workers.

Task: %s
Type: %s
Requirements: %s

Respond with ONLY a JSON object in this exact shape:
{
  "subtasks": [
    {
      "id": "short-unique-id",
      "description": "what this subtask does",
      "type": "research|analysis|synthesis|generation",
      "dependencies": ["ids of subtasks that must finish first"],
      "priority": 5,
      "estimated_seconds": 30,
      "required_capabilities": ["capability tags"]
    }
  ],
  "parallel_groups": [["ids that can run concurrently"]],
  "sequential_order": ["ids that must run one at a time, in order"],
  "total_estimated_seconds": 120
}

Rules:
- Every dependency ID must reference a subtask in the "subtasks" list.
- The dependency graph must be acyclic.
- Prefer parallel groups; use sequential_order only where ordering matters.`

// decomposedSubtask is the JSON structure returned by the oracle for a
// single subtask.
type decomposedSubtask struct {
	ID                   string   `json:"id"`
	Description          string   `json:"description"`
	Type                 string   `json:"type"`
	Dependencies         []string `json:"dependencies"`
	Priority             int      `json:"priority"`
	EstimatedSeconds     int      `json:"estimated_seconds"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// decompositionResponse is the full JSON payload returned by the oracle.
type decompositionResponse struct {
	Subtasks              []decomposedSubtask `json:"subtasks"`
	ParallelGroups        [][]string          `json:"parallel_groups"`
	SequentialOrder       []string            `json:"sequential_order"`
	TotalEstimatedSeconds int                 `json:"total_estimated_seconds"`
}

// Decomposer breaks coarse tasks into dependency-ordered subtask plans.
type Decomposer struct {
	oracle oracle.Oracle
}

// NewDecomposer creates a Decomposer backed by the given oracle.
func NewDecomposer(o oracle.Oracle) *Decomposer {
	return &Decomposer{oracle: o}
}

// Decompose asks the oracle for a subtask plan and validates it: every
// declared dependency must resolve within the returned subtask set and
// the graph must be acyclic. Any failure is reported as ErrDecomposition.
func (d *Decomposer) Decompose(ctx context.Context, task models.Task) (*models.ExecutionPlan, error) {
	prompt := fmt.Sprintf(decompositionPrompt,
		task.Description, task.Type, strings.Join(task.Requirements, ", "))

	raw, err := d.oracle.Complete(ctx, oracle.Request{Prompt: prompt, MaxTokens: task.MaxTokens})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecomposition, err)
	}

	var resp decompositionResponse
	if err := oracle.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrDecomposition, err)
	}
	if len(resp.Subtasks) == 0 {
		return nil, fmt.Errorf("%w: no subtasks returned", ErrDecomposition)
	}

	plan := &models.ExecutionPlan{
		ParallelGroups:     resp.ParallelGroups,
		SequentialOrder:    resp.SequentialOrder,
		TotalEstimatedTime: time.Duration(resp.TotalEstimatedSeconds) * time.Second,
	}
	for _, st := range resp.Subtasks {
		plan.Subtasks = append(plan.Subtasks, &models.Subtask{
			ID:                   st.ID,
			Description:          st.Description,
			Type:                 st.Type,
			Dependencies:         st.Dependencies,
			Priority:             models.ClampPriority(st.Priority),
			EstimatedDuration:    time.Duration(st.EstimatedSeconds) * time.Second,
			RequiredCapabilities: st.RequiredCapabilities,
		})
	}

	graph := NewDependencyGraph()
	if err := graph.Build(plan.Subtasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecomposition, err)
	}

	if err := validatePlanIDs(plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecomposition, err)
	}

	// An oracle that returns no scheduling layout still yields a valid
	// plan: derive parallel groups from the topological layers.
	if len(plan.ParallelGroups) == 0 && len(plan.SequentialOrder) == 0 {
		plan.ParallelGroups = graph.Levels()
	}

	return plan, nil
}

// validatePlanIDs checks that every ID referenced by the plan's parallel
// groups and sequential order resolves to a declared subtask.
func validatePlanIDs(plan *models.ExecutionPlan) error {
	for _, group := range plan.ParallelGroups {
		for _, id := range group {
			if plan.Subtask(id) == nil {
				return fmt.Errorf("parallel group references unknown subtask %s", id)
			}
		}
	}
	for _, id := range plan.SequentialOrder {
		if plan.Subtask(id) == nil {
			return fmt.Errorf("sequential order references unknown subtask %s", id)
		}
	}
	return nil
}
