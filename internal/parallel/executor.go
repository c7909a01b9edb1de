// Package parallel runs flat batches of independent tasks with bounded
// concurrency, priority grouping, and pluggable result aggregation.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/pkg/models"
)

var (
	// ErrPlanning indicates the oracle failed to produce a parallel plan.
	ErrPlanning = errors.New("parallel planning failed")
	// ErrAggregation indicates result aggregation failed.
	ErrAggregation = errors.New("aggregation failed")
)

// Concurrency bounds for parallel execution.
const (
	// MinConcurrency is the lowest allowed concurrency.
	MinConcurrency = 1
	// MaxConcurrency is the highest allowed concurrency.
	MaxConcurrency = 10
	// DefaultConcurrency is used when none is configured.
	DefaultConcurrency = 5
	// defaultRetryBackoff is the linear backoff unit between retry attempts.
	defaultRetryBackoff = 500 * time.Millisecond
	// extraRetryAttempts is how many additional attempts retry_failed allows.
	extraRetryAttempts = 2
)

// FailureStrategy controls how task failures affect the batch.
type FailureStrategy string

const (
	// FailFast aborts the run on the first task error.
	FailFast FailureStrategy = "fail_fast"
	// Continue records failures and proceeds with the remaining tasks.
	Continue FailureStrategy = "continue"
	// RetryFailed retries failing tasks with linear backoff before
	// recording them as failed.
	RetryFailed FailureStrategy = "retry_failed"
)

// Task is one independent unit of a flat parallel batch.
type Task struct {
	// ID identifies the task within the batch.
	ID string `json:"id"`
	// Description is the content submitted to the agent.
	Description string `json:"description"`
	// Agent is the agent the task runs against.
	Agent string `json:"agent"`
	// FallbackAgent, if set, is tried once before the task is marked failed.
	FallbackAgent string `json:"fallback_agent,omitempty"`
	// Priority orders tasks from 1 (lowest) to 10 (highest); higher
	// priority groups drain first.
	Priority int `json:"priority,omitempty"`
}

// Result is the settled outcome of one task.
type Result struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// Agent is the agent that produced the final outcome.
	Agent string `json:"agent"`
	// Output is the produced payload on success.
	Output string `json:"output,omitempty"`
	// Error is the captured failure reason, empty on success.
	Error string `json:"error,omitempty"`
	// Success indicates the task completed without error.
	Success bool `json:"success"`
	// Attempts is the total number of invocation attempts made.
	Attempts int `json:"attempts"`
	// Duration is how long the task took to settle.
	Duration time.Duration `json:"duration"`
}

// TaskError summarizes one failed task.
type TaskError struct {
	// TaskID identifies the failed task.
	TaskID string `json:"task_id"`
	// Agent is the last agent tried.
	Agent string `json:"agent"`
	// Message is the failure reason.
	Message string `json:"message"`
}

// Statistics aggregates counters for one batch run.
type Statistics struct {
	// Total is the number of tasks submitted.
	Total int `json:"total"`
	// Succeeded is the number of tasks that settled successfully.
	Succeeded int `json:"succeeded"`
	// Failed is the number of tasks that settled with an error.
	Failed int `json:"failed"`
	// Retries is the number of extra attempts made across all tasks.
	Retries int `json:"retries"`
	// Duration is the wall time of the whole run.
	Duration time.Duration `json:"duration"`
}

// Outcome is the full report of one parallel run.
type Outcome struct {
	// Success indicates every task settled successfully.
	Success bool `json:"success"`
	// Results holds one settled result per executed task.
	Results []Result `json:"results"`
	// Errors summarizes the failed tasks.
	Errors []TaskError `json:"errors,omitempty"`
	// Statistics aggregates counters for the run.
	Statistics Statistics `json:"statistics"`
}

// Invoker dispatches task content to a named agent.
type Invoker interface {
	Invoke(ctx context.Context, agentID, content string) (string, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, agentID, content string) (string, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, agentID, content string) (string, error) {
	return f(ctx, agentID, content)
}

// Options controls one parallel run.
type Options struct {
	// MaxConcurrency bounds concurrently outstanding tasks, clamped to
	// [MinConcurrency, MaxConcurrency]. Zero uses DefaultConcurrency.
	MaxConcurrency int
	// FailureStrategy controls failure handling. Defaults to Continue.
	FailureStrategy FailureStrategy
	// RetryBackoff is the linear backoff unit for RetryFailed. Zero uses
	// the package default.
	RetryBackoff time.Duration
}

// Executor runs flat batches of independent tasks against agents.
type Executor struct {
	invoker Invoker
	oracle  oracle.Oracle
}

// NewExecutor creates an Executor dispatching through the given invoker
// and aggregating through the given oracle.
func NewExecutor(invoker Invoker, o oracle.Oracle) *Executor {
	return &Executor{invoker: invoker, oracle: o}
}

// ClampConcurrency normalizes a concurrency value into the allowed range.
func ClampConcurrency(n int) int {
	if n == 0 {
		return DefaultConcurrency
	}
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ExecuteParallel runs the batch. Tasks are grouped by descending
// priority; within a group they run in concurrency-bounded batches, each
// batch settled fully before the next starts. Across independent tasks
// only priority-group draining order is guaranteed.
func (e *Executor) ExecuteParallel(ctx context.Context, tasks []Task, opts Options) *Outcome {
	started := time.Now()
	concurrency := ClampConcurrency(opts.MaxConcurrency)
	strategy := opts.FailureStrategy
	if strategy == "" {
		strategy = Continue
	}

	outcome := &Outcome{Success: true}
	outcome.Statistics.Total = len(tasks)

	aborted := false
	for _, group := range groupByPriority(tasks) {
		if aborted {
			break
		}
		for start := 0; start < len(group); start += concurrency {
			end := start + concurrency
			if end > len(group) {
				end = len(group)
			}
			batch := group[start:end]

			results := e.runBatch(ctx, batch, strategy, opts)
			for _, r := range results {
				outcome.Results = append(outcome.Results, r)
				outcome.Statistics.Retries += r.Attempts - 1
				if r.Success {
					outcome.Statistics.Succeeded++
				} else {
					outcome.Statistics.Failed++
					outcome.Success = false
					outcome.Errors = append(outcome.Errors, TaskError{
						TaskID:  r.TaskID,
						Agent:   r.Agent,
						Message: r.Error,
					})
				}
			}

			if strategy == FailFast && !outcome.Success {
				aborted = true
				break
			}
		}
	}

	outcome.Statistics.Duration = time.Since(started)
	return outcome
}

// runBatch settles one concurrency-bounded batch. Under FailFast the
// batch shares a cancellable context so siblings stop early; the batch is
// still fully settled (every started task gets a recorded result).
func (e *Executor) runBatch(ctx context.Context, batch []Task, strategy FailureStrategy, opts Options) []Result {
	results := make([]Result, len(batch))

	if strategy == FailFast {
		g, gctx := errgroup.WithContext(ctx)
		for i, t := range batch {
			g.Go(func() error {
				results[i] = e.runTask(gctx, t, strategy, opts)
				if !results[i].Success {
					return fmt.Errorf("task %s: %s", t.ID, results[i].Error)
				}
				return nil
			})
		}
		// The first error cancels gctx; remaining tasks settle as
		// cancelled and are recorded like any other failure.
		_ = g.Wait()
		return results
	}

	var wg sync.WaitGroup
	for i, t := range batch {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			results[i] = e.runTask(ctx, t, strategy, opts)
		}(i, t)
	}
	wg.Wait()
	return results
}

// runTask drives one task to a settled result: attempts against the
// primary agent (with extra retries under RetryFailed), then a single
// attempt against the declared fallback agent before marking it failed.
func (e *Executor) runTask(ctx context.Context, t Task, strategy FailureStrategy, opts Options) Result {
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	maxAttempts := 1
	if strategy == RetryFailed {
		maxAttempts += extraRetryAttempts
	}

	started := time.Now()
	res := Result{TaskID: t.ID, Agent: t.Agent}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff between attempts.
			select {
			case <-time.After(time.Duration(attempt-1) * backoff):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		output, err := e.invoker.Invoke(ctx, t.Agent, t.Description)
		res.Attempts++
		if err == nil {
			res.Output = output
			res.Success = true
			res.Duration = time.Since(started)
			return res
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	// One shot against the fallback agent before giving up.
	if t.FallbackAgent != "" && ctx.Err() == nil {
		output, err := e.invoker.Invoke(ctx, t.FallbackAgent, t.Description)
		res.Attempts++
		res.Agent = t.FallbackAgent
		if err == nil {
			res.Output = output
			res.Success = true
			res.Duration = time.Since(started)
			return res
		}
		lastErr = err
	}

	res.Error = lastErr.Error()
	res.Duration = time.Since(started)
	return res
}

// groupByPriority splits tasks into groups of equal effective priority,
// ordered from highest to lowest. Order within a group is preserved.
func groupByPriority(tasks []Task) [][]Task {
	byPriority := make(map[int][]Task)
	for _, t := range tasks {
		p := models.ClampPriority(t.Priority)
		byPriority[p] = append(byPriority[p], t)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	groups := make([][]Task, 0, len(priorities))
	for _, p := range priorities {
		groups = append(groups, byPriority[p])
	}
	return groups
}
