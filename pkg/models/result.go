package models

import "time"

// SubtaskResult is the per-subtask outcome recorded during coordination.
type SubtaskResult struct {
	// SubtaskID identifies the subtask this result belongs to.
	SubtaskID string `json:"subtask_id"`
	// WorkerID identifies the worker that executed the subtask.
	WorkerID string `json:"worker_id,omitempty"`
	// Output is the produced payload on success.
	Output string `json:"output,omitempty"`
	// Error is the captured failure reason, empty on success.
	Error string `json:"error,omitempty"`
	// Success indicates the subtask completed without error.
	Success bool `json:"success"`
	// TokensUsed is the reasoning budget consumed by this subtask.
	TokensUsed int64 `json:"tokens_used,omitempty"`
	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when execution finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns the wall time the subtask spent executing.
func (r *SubtaskResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// AggregatedResult is the synthesis of all subtask results for one
// decomposed task.
type AggregatedResult struct {
	// FinalResult is the synthesized output.
	FinalResult string `json:"final_result"`
	// TotalDuration is the summed execution time across subtasks.
	TotalDuration time.Duration `json:"total_duration"`
	// TotalTokensUsed is the summed reasoning budget across subtasks.
	TotalTokensUsed int64 `json:"total_tokens_used"`
	// SubtasksCompleted is the number of subtasks that succeeded.
	SubtasksCompleted int `json:"subtasks_completed"`
	// Success indicates every subtask succeeded.
	Success bool `json:"success"`
}

// ExecutionMetrics holds cumulative counters for an engine instance.
// AvgResponseTime is a running mean over all completed tasks, not an
// exponential average.
type ExecutionMetrics struct {
	// TotalTasks is the number of tasks executed.
	TotalTasks int `json:"total_tasks"`
	// SuccessfulTasks is the number of tasks accepted by the quality gate.
	SuccessfulTasks int `json:"successful_tasks"`
	// AvgResponseTime is the running mean end-to-end task time.
	AvgResponseTime time.Duration `json:"avg_response_time"`
	// TotalTokensUsed is the cumulative reasoning budget consumed.
	TotalTokensUsed int64 `json:"total_tokens_used"`
}
