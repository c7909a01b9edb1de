package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// ErrDuplicateAgent indicates an agent was registered under an ID that
// is already taken.
var ErrDuplicateAgent = errors.New("duplicate agent")

// Agent is a polymorphic executor registered with the coordinator.
// Agents are dispatched by capability-set matching, not by type.
type Agent interface {
	// ID is the unique identifier of the agent.
	ID() string
	// Capabilities lists what the agent can do.
	Capabilities() []string
	// Invoke submits content and returns the agent's response.
	Invoke(ctx context.Context, content string) (string, error)
}

// AgentStats carries the rolling performance record for one agent.
type AgentStats struct {
	// TotalCalls is the cumulative number of invocations.
	TotalCalls int
	// SuccessRate is the cumulative fraction of successful invocations.
	SuccessRate float64
	// AvgTime is the running mean invocation time.
	AvgTime time.Duration
	// Available indicates the agent can currently accept work.
	Available bool
}

// Priority bonus multipliers applied when scoring agents for a task.
const (
	highPriorityBonus   = 1.2
	normalPriorityBonus = 1.0
	lowPriorityBonus    = 0.8
)

// Registry holds the dynamically registered agents and their rolling
// stats. It is the only shared mutable agent state; one registry is
// owned by one coordinator instance.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	stats  map[string]*AgentStats
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		stats:  make(map[string]*AgentStats),
	}
}

// Register adds an agent. Duplicate IDs are rejected with
// ErrDuplicateAgent.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	r.agents[a.ID()] = a
	r.stats[a.ID()] = &AgentStats{SuccessRate: 1.0, Available: true}
	return nil
}

// Unregister removes an agent and its stats. Unknown IDs are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	delete(r.stats, id)
}

// Get returns the agent with the given ID.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// IDs returns the IDs of all registered agents.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Stats returns a copy of the rolling stats for an agent.
func (r *Registry) Stats(id string) (AgentStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[id]
	if !ok {
		return AgentStats{}, false
	}
	return *s, true
}

// SetAvailable marks an agent as able or unable to accept work.
func (r *Registry) SetAvailable(id string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[id]; ok {
		s.Available = available
	}
}

// RecordInvocation folds one finished invocation into the agent's
// cumulative success rate and running mean time.
func (r *Registry) RecordInvocation(id string, elapsed time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[id]
	if !ok {
		return
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	n := float64(s.TotalCalls)
	s.SuccessRate = (s.SuccessRate*n + outcome) / (n + 1)
	s.AvgTime = time.Duration((float64(s.AvgTime)*n + float64(elapsed)) / (n + 1))
	s.TotalCalls++
}

// SelectAgent returns the best available agent whose capability set
// covers the task's requirements, or nil when no agent qualifies.
// Survivors are scored by 0.6*successRate + 0.4*(1/avgTime) scaled by a
// priority bonus; the top scorer wins.
func (r *Registry) SelectAgent(task models.Task) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bonus := priorityBonus(task.EffectivePriority())

	var best Agent
	bestScore := -1.0
	for id, a := range r.agents {
		s := r.stats[id]
		if !s.Available {
			continue
		}
		if !hasCapabilities(a.Capabilities(), task.Requirements) {
			continue
		}

		// An agent with no history gets a neutral 1s average.
		avgSeconds := s.AvgTime.Seconds()
		if avgSeconds <= 0 {
			avgSeconds = 1.0
		}
		score := (0.6*s.SuccessRate + 0.4*(1.0/avgSeconds)) * bonus
		if score > bestScore {
			bestScore = score
			best = a
		}
	}
	return best
}

// priorityBonus maps a task priority to its scoring multiplier.
func priorityBonus(priority int) float64 {
	switch {
	case priority >= 8:
		return highPriorityBonus
	case priority <= 3:
		return lowPriorityBonus
	default:
		return normalPriorityBonus
	}
}

// hasCapabilities reports whether have is a superset of required.
func hasCapabilities(have, required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range have {
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
