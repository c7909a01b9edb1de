package orchestrator

import (
	"sync"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// SelectionPolicy breaks ties among eligible workers when more than one
// could take a subtask. Candidates are always available workers that
// advertise every required capability.
type SelectionPolicy interface {
	// Select returns the ID of the chosen worker, or "" when candidates
	// is empty.
	Select(candidates []models.Worker) string
}

// RoundRobin cycles through candidates in arrival order. It is the
// default policy.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin creates a round-robin selection policy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select implements SelectionPolicy.
func (r *RoundRobin) Select(candidates []models.Worker) string {
	if len(candidates) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := candidates[r.next%len(candidates)].ID
	r.next++
	return id
}

// LeastLoaded picks the candidate with the fewest completed tasks,
// spreading historical load evenly across the pool. Ties go to the
// higher success rate.
type LeastLoaded struct{}

// NewLeastLoaded creates a least-loaded selection policy.
func NewLeastLoaded() *LeastLoaded {
	return &LeastLoaded{}
}

// Select implements SelectionPolicy.
func (l *LeastLoaded) Select(candidates []models.Worker) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.TotalTasks < best.TotalTasks ||
			(c.TotalTasks == best.TotalTasks && c.SuccessRate > best.SuccessRate) {
			best = c
		}
	}
	return best.ID
}
