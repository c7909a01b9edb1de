// Package orchestrator turns one coarse task into a subtask DAG and
// drives the worker pool through it, respecting dependencies, then
// aggregates the subtask outputs into one result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/pkg/models"
)

var (
	// ErrDependencyNotSatisfied indicates a sequential subtask was about
	// to start before all its declared dependencies had recorded results.
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	// ErrAggregation indicates result synthesis failed.
	ErrAggregation = errors.New("aggregation failed")
)

// aggregationPrompt asks the oracle to weave subtask outputs into one result.
const aggregationPrompt = `The following task was split into subtasks and executed.
Synthesize the subtask outputs into one coherent final result.

Task: %s

Subtask outputs:
%s

Respond with the final result only, no preamble.`

// CoordinateOptions controls how a plan is driven through the pool.
type CoordinateOptions struct {
	// FailFast aborts coordination on the first subtask failure instead
	// of capturing it and continuing with siblings.
	FailFast bool
}

// CancelResult reports the outcome of a cancellation request.
type CancelResult struct {
	// Success is false when the task ID was unknown.
	Success bool `json:"success"`
}

// Orchestrator coordinates decomposed plans across the worker pool.
type Orchestrator struct {
	oracle     oracle.Oracle
	pool       *pool.WorkerPool
	decomposer *Decomposer
	policy     SelectionPolicy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSelectionPolicy overrides the default round-robin worker selection.
func WithSelectionPolicy(p SelectionPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// New creates an Orchestrator over the given oracle and worker pool.
func New(o oracle.Oracle, wp *pool.WorkerPool, opts ...Option) *Orchestrator {
	orch := &Orchestrator{
		oracle:     o,
		pool:       wp,
		decomposer: NewDecomposer(o),
		policy:     NewRoundRobin(),
	}
	for _, opt := range opts {
		opt(orch)
	}
	return orch
}

// Decompose produces a validated execution plan for the task.
func (o *Orchestrator) Decompose(ctx context.Context, task models.Task) (*models.ExecutionPlan, error) {
	return o.decomposer.Decompose(ctx, task)
}

// Pool returns the worker pool this orchestrator drives.
func (o *Orchestrator) Pool() *pool.WorkerPool {
	return o.pool
}

// CoordinateWorkers drives the plan through the pool. Each parallel group
// is drained fully (assign plus await every result) before the next group
// starts; this is how dependency ordering is enforced. Sequential
// subtasks then run one at a time in listed order, each re-checked
// against recorded dependency results.
//
// A single subtask failure is captured in its result, not fatal to
// siblings, unless opts.FailFast is set.
func (o *Orchestrator) CoordinateWorkers(ctx context.Context, plan *models.ExecutionPlan, opts CoordinateOptions) (map[string]*models.SubtaskResult, error) {
	results := make(map[string]*models.SubtaskResult)
	var mu sync.Mutex

	record := func(r *models.SubtaskResult) {
		mu.Lock()
		results[r.SubtaskID] = r
		mu.Unlock()
	}

	for _, group := range plan.ParallelGroups {
		if err := o.runGroup(ctx, group, plan, record, opts.FailFast, &mu, results); err != nil {
			return results, err
		}
	}

	for _, id := range plan.SequentialOrder {
		st := plan.Subtask(id)
		if st == nil {
			continue
		}
		// Defensive re-check: every declared dependency must already have
		// a recorded result before the subtask is assigned.
		mu.Lock()
		missing := ""
		for _, depID := range st.Dependencies {
			if _, ok := results[depID]; !ok {
				missing = depID
				break
			}
		}
		mu.Unlock()
		if missing != "" {
			return results, fmt.Errorf("%w: subtask %s requires %s", ErrDependencyNotSatisfied, id, missing)
		}

		res := o.runSubtask(ctx, st)
		record(res)
		if opts.FailFast && !res.Success {
			return results, fmt.Errorf("subtask %s failed: %s", res.SubtaskID, res.Error)
		}
	}

	return results, nil
}

// runGroup executes one parallel group in waves bounded by worker
// availability, waiting for every wave to settle before assigning more.
func (o *Orchestrator) runGroup(ctx context.Context, group []string, plan *models.ExecutionPlan, record func(*models.SubtaskResult), failFast bool, mu *sync.Mutex, results map[string]*models.SubtaskResult) error {
	pending := append([]string{}, group...)

	for len(pending) > 0 {
		type waveItem struct {
			subtask    *models.Subtask
			assignment pool.Assignment
		}
		var wave []waveItem
		var deferred []string

		for _, id := range pending {
			st := plan.Subtask(id)
			if st == nil {
				continue
			}
			workerID := o.pickWorker(st.RequiredCapabilities)
			if workerID == "" {
				if o.hasCapableWorker(st.RequiredCapabilities) {
					// Capable workers exist but are busy with this wave.
					deferred = append(deferred, id)
				} else {
					record(&models.SubtaskResult{
						SubtaskID:   st.ID,
						Error:       fmt.Sprintf("no worker advertises capabilities %v", st.RequiredCapabilities),
						StartedAt:   time.Now(),
						CompletedAt: time.Now(),
					})
				}
				continue
			}

			asn, err := o.pool.AssignTask(subtaskToTask(st), workerID)
			if err != nil {
				// Lost a race for the worker; try again next wave.
				deferred = append(deferred, id)
				continue
			}
			debugLog("[orchestrator] assigned subtask %s to %s (task %s)", st.ID, workerID, asn.TaskID)
			wave = append(wave, waveItem{subtask: st, assignment: asn})
		}

		if len(wave) == 0 {
			if len(deferred) == 0 {
				break
			}
			// Every capable worker is held outside this coordination
			// flow; record explicit failures rather than spinning.
			for _, id := range deferred {
				record(&models.SubtaskResult{
					SubtaskID:   id,
					Error:       "no worker available",
					StartedAt:   time.Now(),
					CompletedAt: time.Now(),
				})
			}
			break
		}

		// Drain the wave fully before assigning more work.
		var wg sync.WaitGroup
		for _, item := range wave {
			wg.Add(1)
			go func(item waveItem) {
				defer wg.Done()
				record(o.awaitResult(ctx, item.subtask, item.assignment))
			}(item)
		}
		wg.Wait()

		if failFast {
			mu.Lock()
			var failed *models.SubtaskResult
			for _, item := range wave {
				if r, ok := results[item.subtask.ID]; ok && !r.Success {
					failed = r
					break
				}
			}
			mu.Unlock()
			if failed != nil {
				return fmt.Errorf("subtask %s failed: %s", failed.SubtaskID, failed.Error)
			}
		}

		pending = deferred
	}

	return nil
}

// runSubtask assigns one subtask and waits for its result.
func (o *Orchestrator) runSubtask(ctx context.Context, st *models.Subtask) *models.SubtaskResult {
	workerID := o.pickWorker(st.RequiredCapabilities)
	if workerID == "" {
		now := time.Now()
		return &models.SubtaskResult{
			SubtaskID:   st.ID,
			Error:       fmt.Sprintf("no worker available for capabilities %v", st.RequiredCapabilities),
			StartedAt:   now,
			CompletedAt: now,
		}
	}

	asn, err := o.pool.AssignTask(subtaskToTask(st), workerID)
	if err != nil {
		now := time.Now()
		return &models.SubtaskResult{
			SubtaskID:   st.ID,
			WorkerID:    workerID,
			Error:       err.Error(),
			StartedAt:   now,
			CompletedAt: now,
		}
	}
	return o.awaitResult(ctx, st, asn)
}

// awaitResult blocks on the pool for one assignment and converts the
// outcome into a SubtaskResult. Pool failures (including timeouts) are
// captured as per-subtask errors.
func (o *Orchestrator) awaitResult(ctx context.Context, st *models.Subtask, asn pool.Assignment) *models.SubtaskResult {
	started := time.Now()
	res, err := o.pool.TaskResult(ctx, asn.TaskID)
	completed := time.Now()

	if err != nil {
		debugLog("[orchestrator] subtask %s failed on %s: %v", st.ID, asn.WorkerID, err)
		return &models.SubtaskResult{
			SubtaskID:   st.ID,
			WorkerID:    asn.WorkerID,
			Error:       err.Error(),
			StartedAt:   started,
			CompletedAt: completed,
		}
	}

	return &models.SubtaskResult{
		SubtaskID:   st.ID,
		WorkerID:    asn.WorkerID,
		Output:      res.Output,
		Success:     true,
		TokensUsed:  res.TokensUsed,
		StartedAt:   started,
		CompletedAt: completed,
	}
}

// AggregateResults asks the oracle to synthesize one final result from
// the per-subtask outputs. Oracle failure is reported as ErrAggregation.
func (o *Orchestrator) AggregateResults(ctx context.Context, results map[string]*models.SubtaskResult, task models.Task) (*models.AggregatedResult, error) {
	agg := &models.AggregatedResult{Success: true}

	var outputs strings.Builder
	for _, id := range sortedResultIDs(results) {
		r := results[id]
		agg.TotalDuration += r.Duration()
		agg.TotalTokensUsed += r.TokensUsed
		if r.Success {
			agg.SubtasksCompleted++
			fmt.Fprintf(&outputs, "[%s]\n%s\n\n", r.SubtaskID, r.Output)
		} else {
			agg.Success = false
			fmt.Fprintf(&outputs, "[%s] FAILED: %s\n\n", r.SubtaskID, r.Error)
		}
	}

	prompt := fmt.Sprintf(aggregationPrompt, task.Description, outputs.String())
	final, err := o.oracle.Complete(ctx, oracle.Request{Prompt: prompt, MaxTokens: task.MaxTokens})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregation, err)
	}

	agg.FinalResult = strings.TrimSpace(final)
	return agg, nil
}

// CancelTask force-releases the worker executing the given pool task and
// drops its bookkeeping. Cancelling an unknown task returns
// {Success:false} rather than an error.
func (o *Orchestrator) CancelTask(taskID string) CancelResult {
	return CancelResult{Success: o.pool.CancelTask(taskID)}
}

// pickWorker applies the selection policy to available workers that
// advertise every required capability.
func (o *Orchestrator) pickWorker(required []string) string {
	var eligible []models.Worker
	for _, w := range o.pool.AvailableWorkers() {
		if w.HasCapabilities(required) {
			eligible = append(eligible, w)
		}
	}
	return o.policy.Select(eligible)
}

// hasCapableWorker reports whether any worker in the pool, busy or not,
// advertises the required capabilities.
func (o *Orchestrator) hasCapableWorker(required []string) bool {
	for _, w := range o.pool.Workers() {
		if w.HasCapabilities(required) {
			return true
		}
	}
	return false
}

// subtaskToTask converts a subtask into the pool's task shape.
func subtaskToTask(st *models.Subtask) models.Task {
	return models.Task{
		ID:           st.ID,
		Description:  st.Description,
		Type:         st.Type,
		Requirements: st.RequiredCapabilities,
		Priority:     st.Priority,
	}
}

// sortedResultIDs returns result keys in lexical order for deterministic
// aggregation prompts.
func sortedResultIDs(results map[string]*models.SubtaskResult) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
