// Package pool provides a bounded set of interchangeable execution slots.
// The pool owns its workers: it assigns tasks, enforces per-task timeouts,
// and guarantees no worker is ever stranded busy.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/pkg/models"
)

var (
	// ErrWorkerUnavailable indicates the requested worker is unknown or busy.
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrTaskTimeout indicates a task exceeded the pool's worker timeout.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrTaskNotFound indicates no active task exists with the given ID.
	ErrTaskNotFound = errors.New("task not found")
)

// Default pool sizing.
const (
	// DefaultWorkers is the number of workers when none are configured.
	DefaultWorkers = 5
	// DefaultTimeout is the per-task timeout when none is configured.
	DefaultTimeout = 30 * time.Second
)

// RunResult is the payload produced by a worker run.
type RunResult struct {
	// Output is the produced payload.
	Output string
	// TokensUsed is the reasoning budget consumed.
	TokensUsed int64
}

// Runner executes one task on behalf of a worker. The pool knows nothing
// about how work is performed; callers inject the execution function.
type Runner func(ctx context.Context, worker models.Worker, task models.Task) (RunResult, error)

// TaskStatus is the lifecycle state of an active task record.
type TaskStatus string

const (
	// TaskRunning indicates the task is executing.
	TaskRunning TaskStatus = "running"
	// TaskCompleted indicates the task produced a result.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed indicates the task failed.
	TaskFailed TaskStatus = "failed"
	// TaskTimedOut indicates the task exceeded the worker timeout.
	TaskTimedOut TaskStatus = "timeout"
)

// activeTask is the bookkeeping record for one in-flight task.
// It is created on assignment and removed once its result is retrieved.
type activeTask struct {
	id        string
	workerID  string
	task      models.Task
	startTime time.Time
	status    TaskStatus
	result    RunResult
	err       error
	// done is closed exactly once when the task leaves the running state
	// through completion or failure. Timeouts are detected by the waiter.
	done   chan struct{}
	cancel context.CancelFunc
}

// Assignment is returned when a task is accepted by a worker.
type Assignment struct {
	// TaskID is the pool-allocated identifier for the in-flight task.
	TaskID string
	// WorkerID is the worker the task was assigned to.
	WorkerID string
	// EstimatedCompletion is the predicted completion time.
	EstimatedCompletion time.Time
}

// Config contains configuration options for the WorkerPool.
type Config struct {
	// Workers optionally provides explicit workers. If empty, the pool
	// creates Size generic workers.
	Workers []models.Worker
	// Size is the number of workers to create when Workers is empty.
	// Defaults to DefaultWorkers.
	Size int
	// Capabilities is the capability set given to generated workers.
	Capabilities []string
	// Timeout is the per-task timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Runner executes tasks. Required.
	Runner Runner
}

// WorkerPool owns a bounded set of workers and their in-flight tasks.
type WorkerPool struct {
	mu      sync.RWMutex
	workers map[string]*models.Worker
	active  map[string]*activeTask
	timeout time.Duration
	runner  Runner

	// Cumulative execution statistics.
	completedRuns int
	avgExecTime   time.Duration
}

// New creates a WorkerPool from the given configuration.
func New(cfg Config) (*WorkerPool, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("pool: Runner is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	workers := make(map[string]*models.Worker)
	if len(cfg.Workers) > 0 {
		for i := range cfg.Workers {
			w := cfg.Workers[i]
			w.Status = models.WorkerAvailable
			workers[w.ID] = &w
		}
	} else {
		size := cfg.Size
		if size <= 0 {
			size = DefaultWorkers
		}
		for i := 0; i < size; i++ {
			id := fmt.Sprintf("worker-%d", i+1)
			workers[id] = &models.Worker{
				ID:           id,
				Capabilities: append([]string{}, cfg.Capabilities...),
				Status:       models.WorkerAvailable,
				SuccessRate:  1.0,
			}
		}
	}

	return &WorkerPool{
		workers: workers,
		active:  make(map[string]*activeTask),
		timeout: timeout,
		runner:  cfg.Runner,
	}, nil
}

// AvailableWorkers returns copies of all workers currently able to accept
// a task.
func (p *WorkerPool) AvailableWorkers() []models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	available := make([]models.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Status == models.WorkerAvailable {
			available = append(available, *w)
		}
	}
	return available
}

// Workers returns copies of every worker in the pool regardless of status.
func (p *WorkerPool) Workers() []models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make([]models.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		all = append(all, *w)
	}
	return all
}

// Worker returns a copy of the worker with the given ID.
func (p *WorkerPool) Worker(workerID string) (models.Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[workerID]
	if !ok {
		return models.Worker{}, false
	}
	return *w, true
}

// Size returns the total number of workers in the pool.
func (p *WorkerPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// AssignTask marks the worker busy, allocates a task ID, and starts
// asynchronous execution. Fails with ErrWorkerUnavailable if the worker
// is unknown or busy.
func (p *WorkerPool) AssignTask(task models.Task, workerID string) (Assignment, error) {
	p.mu.Lock()

	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return Assignment{}, fmt.Errorf("%w: unknown worker %s", ErrWorkerUnavailable, workerID)
	}
	if w.Status != models.WorkerAvailable {
		p.mu.Unlock()
		return Assignment{}, fmt.Errorf("%w: worker %s is busy", ErrWorkerUnavailable, workerID)
	}

	w.Status = models.WorkerBusy
	w.ActiveTaskCount++

	ctx, cancel := context.WithCancel(context.Background())
	at := &activeTask{
		id:        uuid.New().String()[:8],
		workerID:  workerID,
		task:      task,
		startTime: time.Now(),
		status:    TaskRunning,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	p.active[at.id] = at
	workerCopy := *w
	p.mu.Unlock()

	go p.execute(ctx, at, workerCopy)

	return Assignment{
		TaskID:              at.id,
		WorkerID:            workerID,
		EstimatedCompletion: at.startTime.Add(p.timeout),
	}, nil
}

// execute runs the task and records the outcome. A panicking runner is
// treated as a worker crash: the failure is captured and the worker is
// released like any other completion.
func (p *WorkerPool) execute(ctx context.Context, at *activeTask, worker models.Worker) {
	var result RunResult
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[pool] worker %s crashed running task %s: %v", worker.ID, at.id, r)
				err = fmt.Errorf("worker crashed: %v", r)
			}
		}()
		result, err = p.runner(ctx, worker, at.task)
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	// A timeout may already have settled this record and released the
	// worker; the late result is discarded.
	if at.status != TaskRunning {
		return
	}

	if err != nil {
		at.status = TaskFailed
		at.err = err
	} else {
		at.status = TaskCompleted
		at.result = result
	}
	close(at.done)

	p.recordCompletionLocked(at.workerID, err == nil, time.Since(at.startTime))
	p.releaseLocked(at.workerID)
}

// TaskResult blocks until the task leaves the running state or the worker
// timeout elapses. On success it returns the payload; on failure it
// returns the captured failure reason; on timeout it returns
// ErrTaskTimeout and force-releases the worker. The bookkeeping record is
// removed in every case.
func (p *WorkerPool) TaskResult(ctx context.Context, taskID string) (RunResult, error) {
	p.mu.RLock()
	at, ok := p.active[taskID]
	p.mu.RUnlock()
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	remaining := p.timeout - time.Since(at.startTime)
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-at.done:
		return p.settle(at)
	case <-timer.C:
		return RunResult{}, p.timeoutTask(at)
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// settle retrieves the outcome of a finished task and drops its record.
func (p *WorkerPool) settle(at *activeTask) (RunResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, at.id)
	if at.status == TaskFailed {
		return RunResult{}, at.err
	}
	return at.result, nil
}

// timeoutTask marks a still-running task as timed out, cancels its
// context, force-releases the worker, and drops the record.
func (p *WorkerPool) timeoutTask(at *activeTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The task may have finished between the timer firing and the lock
	// being acquired; prefer the real outcome.
	if at.status != TaskRunning {
		delete(p.active, at.id)
		if at.status == TaskFailed {
			return at.err
		}
		return nil
	}

	at.status = TaskTimedOut
	at.cancel()
	close(at.done)
	delete(p.active, at.id)

	p.recordCompletionLocked(at.workerID, false, time.Since(at.startTime))
	p.releaseLocked(at.workerID)

	return fmt.Errorf("%w: task %s exceeded %s", ErrTaskTimeout, at.id, p.timeout)
}

// CancelTask force-releases the worker and drops bookkeeping for the
// given task. Returns false for unknown task IDs rather than an error.
// An execution already in flight is signalled to stop via its context,
// but its eventual result is discarded regardless.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	at, ok := p.active[taskID]
	if !ok {
		return false
	}

	if at.status == TaskRunning {
		at.status = TaskFailed
		at.err = fmt.Errorf("task %s cancelled", taskID)
		at.cancel()
		close(at.done)
		p.releaseLocked(at.workerID)
	}
	delete(p.active, taskID)
	return true
}

// ReleaseWorker returns the worker to rotation regardless of bookkeeping
// state. It is idempotent; releasing an available or unknown worker is a
// no-op.
func (p *WorkerPool) ReleaseWorker(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(workerID)
}

// releaseLocked returns a worker to the available state. Callers must
// hold p.mu.
func (p *WorkerPool) releaseLocked(workerID string) {
	w, ok := p.workers[workerID]
	if !ok {
		return
	}
	w.Status = models.WorkerAvailable
	if w.ActiveTaskCount > 0 {
		w.ActiveTaskCount--
	}
}

// recordCompletionLocked folds one finished run into the worker's
// cumulative success rate and the pool's cumulative average execution
// time. Callers must hold p.mu.
func (p *WorkerPool) recordCompletionLocked(workerID string, success bool, elapsed time.Duration) {
	if w, ok := p.workers[workerID]; ok {
		outcome := 0.0
		if success {
			outcome = 1.0
		}
		n := float64(w.TotalTasks)
		w.SuccessRate = (w.SuccessRate*n + outcome) / (n + 1)
		w.TotalTasks++
	}

	p.completedRuns++
	m := time.Duration(p.completedRuns)
	p.avgExecTime = (p.avgExecTime*(m-1) + elapsed) / m
}

// AvgExecTime returns the pool's cumulative average execution time.
func (p *WorkerPool) AvgExecTime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.avgExecTime
}

// Timeout returns the configured per-task timeout.
func (p *WorkerPool) Timeout() time.Duration {
	return p.timeout
}
