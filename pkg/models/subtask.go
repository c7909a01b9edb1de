package models

import "time"

// Subtask is one node of a decomposed task's dependency graph.
type Subtask struct {
	// ID is the identifier of the subtask, unique within its plan.
	ID string `json:"id"`
	// Description is the work this subtask performs.
	Description string `json:"description"`
	// Type categorizes the subtask.
	Type string `json:"type,omitempty"`
	// Dependencies lists subtask IDs that must complete before this one.
	// Every referenced ID must resolve within the same plan.
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority orders subtasks from 1 (lowest) to 10 (highest).
	Priority int `json:"priority,omitempty"`
	// EstimatedDuration is the predicted execution time.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	// RequiredCapabilities lists capabilities an eligible worker must have.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// ExecutionPlan describes how one decomposed task will be driven through
// the worker pool: groups that may run concurrently, followed by subtasks
// that must run one at a time in listed order.
type ExecutionPlan struct {
	// Subtasks holds every subtask in the plan, keyed by listed order.
	Subtasks []*Subtask `json:"subtasks"`
	// ParallelGroups lists subtask ID groups; each group is drained fully
	// before the next group starts.
	ParallelGroups [][]string `json:"parallel_groups,omitempty"`
	// SequentialOrder lists subtask IDs executed one at a time after all
	// parallel groups complete.
	SequentialOrder []string `json:"sequential_order,omitempty"`
	// TotalEstimatedTime is the predicted end-to-end time for the plan.
	TotalEstimatedTime time.Duration `json:"total_estimated_time,omitempty"`
}

// Subtask returns the subtask with the given ID, or nil if absent.
func (p *ExecutionPlan) Subtask(id string) *Subtask {
	for _, st := range p.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// SubtaskIDs returns the IDs of all subtasks in plan order.
func (p *ExecutionPlan) SubtaskIDs() []string {
	ids := make([]string, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		ids = append(ids, st.ID)
	}
	return ids
}
