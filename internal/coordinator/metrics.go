package coordinator

import (
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// metricsTracker folds task completions into cumulative counters.
// AvgResponseTime is a running mean, recomputed per completion.
type metricsTracker struct {
	mu sync.Mutex
	m  models.ExecutionMetrics
}

// record folds one completed task into the counters.
func (t *metricsTracker) record(success bool, elapsed time.Duration, tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := time.Duration(t.m.TotalTasks)
	t.m.AvgResponseTime = (t.m.AvgResponseTime*n + elapsed) / (n + 1)
	t.m.TotalTasks++
	if success {
		t.m.SuccessfulTasks++
	}
	t.m.TotalTokensUsed += tokens
}

// snapshot returns a copy of the current counters.
func (t *metricsTracker) snapshot() models.ExecutionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m
}
