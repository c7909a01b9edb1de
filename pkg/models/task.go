package models

// Priority bounds for tasks. Priorities outside the range are clamped.
const (
	// PriorityMin is the lowest allowed task priority.
	PriorityMin = 1
	// PriorityMax is the highest allowed task priority.
	PriorityMax = 10
	// PriorityDefault is used when a task declares no priority.
	PriorityDefault = 5
)

// Task represents a unit of work submitted for execution.
// A Task is immutable once submitted; the engine never mutates it.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is the natural-language statement of the work.
	Description string `json:"description"`
	// Type categorizes the task (e.g. "research", "synthesis", "code").
	Type string `json:"type,omitempty"`
	// Requirements lists capabilities a worker or agent must advertise
	// to be eligible for this task.
	Requirements []string `json:"requirements,omitempty"`
	// Priority orders tasks from 1 (lowest) to 10 (highest).
	// Zero means unset; use EffectivePriority for the normalized value.
	Priority int `json:"priority,omitempty"`
	// MaxTokens optionally caps the reasoning budget for this task.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// EffectivePriority returns the task priority clamped to [PriorityMin, PriorityMax],
// defaulting to PriorityDefault when unset.
func (t Task) EffectivePriority() int {
	return ClampPriority(t.Priority)
}

// ClampPriority normalizes a priority value into the allowed range.
// Zero (unset) maps to PriorityDefault.
func ClampPriority(p int) int {
	if p == 0 {
		return PriorityDefault
	}
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}
