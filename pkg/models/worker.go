package models

// WorkerStatus represents the current state of a worker slot.
type WorkerStatus string

const (
	// WorkerAvailable indicates the worker can accept a task.
	WorkerAvailable WorkerStatus = "available"
	// WorkerBusy indicates the worker is executing a task.
	WorkerBusy WorkerStatus = "busy"
)

// Worker is an interchangeable execution slot with a capability set.
// Workers are long-lived and mutated only by the pool that owns them;
// a worker is exclusively owned by at most one in-flight task at a time.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Capabilities lists what this worker can do.
	Capabilities []string `json:"capabilities,omitempty"`
	// Status is the current availability of the worker.
	Status WorkerStatus `json:"status"`
	// ActiveTaskCount is the number of tasks currently assigned.
	ActiveTaskCount int `json:"active_task_count"`
	// TotalTasks is the cumulative number of tasks this worker has run.
	TotalTasks int `json:"total_tasks"`
	// SuccessRate is the cumulative fraction of successful runs in [0,1].
	SuccessRate float64 `json:"success_rate"`
}

// HasCapabilities returns true if the worker advertises every required
// capability. An empty requirement set matches any worker.
func (w *Worker) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range w.Capabilities {
			if cap == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
