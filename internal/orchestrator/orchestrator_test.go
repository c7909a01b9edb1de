package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// recordingRunner captures subtask start order while producing canned
// outputs.
type recordingRunner struct {
	mu    sync.Mutex
	order []string
	fail  map[string]bool
}

func (r *recordingRunner) run(ctx context.Context, w models.Worker, task models.Task) (pool.RunResult, error) {
	r.mu.Lock()
	r.order = append(r.order, task.ID)
	r.mu.Unlock()
	if r.fail[task.ID] {
		return pool.RunResult{}, fmt.Errorf("subtask %s broke", task.ID)
	}
	return pool.RunResult{Output: "output of " + task.ID, TokensUsed: 5}, nil
}

func (r *recordingRunner) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

func newTestOrchestrator(t *testing.T, poolSize int, runner pool.Runner, o oracle.Oracle) *Orchestrator {
	t.Helper()
	wp, err := pool.New(pool.Config{Size: poolSize, Runner: runner})
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	return New(o, wp)
}

func echoOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return "synthesized", nil
	})
}

// A chain A -> B -> C must execute strictly in dependency order.
func TestCoordinateWorkers_ChainOrdering(t *testing.T) {
	runner := &recordingRunner{}
	orch := newTestOrchestrator(t, 3, runner.run, echoOracle())

	plan := &models.ExecutionPlan{
		Subtasks: []*models.Subtask{
			{ID: "a", Description: "first"},
			{ID: "b", Description: "second", Dependencies: []string{"a"}},
			{ID: "c", Description: "third", Dependencies: []string{"b"}},
		},
		ParallelGroups: [][]string{{"a"}, {"b"}, {"c"}},
	}

	results, err := orch.CoordinateWorkers(context.Background(), plan, CoordinateOptions{})
	if err != nil {
		t.Fatalf("CoordinateWorkers failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, id := range []string{"a", "b", "c"} {
		if r := results[id]; r == nil || !r.Success {
			t.Errorf("subtask %s result = %+v", id, r)
		}
	}

	order := runner.started()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("execution order = %v, want [a b c]", order)
	}
}

func TestCoordinateWorkers_FailureCapturedNotFatal(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"b": true}}
	orch := newTestOrchestrator(t, 3, runner.run, echoOracle())

	plan := &models.ExecutionPlan{
		Subtasks: []*models.Subtask{
			{ID: "a", Description: "ok"},
			{ID: "b", Description: "broken"},
			{ID: "c", Description: "also ok"},
		},
		ParallelGroups: [][]string{{"a", "b", "c"}},
	}

	results, err := orch.CoordinateWorkers(context.Background(), plan, CoordinateOptions{})
	if err != nil {
		t.Fatalf("CoordinateWorkers failed: %v", err)
	}
	if results["a"] == nil || !results["a"].Success {
		t.Errorf("subtask a = %+v", results["a"])
	}
	if results["b"] == nil || results["b"].Success || results["b"].Error == "" {
		t.Errorf("subtask b = %+v", results["b"])
	}
	if results["c"] == nil || !results["c"].Success {
		t.Errorf("subtask c = %+v", results["c"])
	}
}

func TestCoordinateWorkers_FailFast(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"a": true}}
	orch := newTestOrchestrator(t, 2, runner.run, echoOracle())

	plan := &models.ExecutionPlan{
		Subtasks: []*models.Subtask{
			{ID: "a", Description: "broken"},
			{ID: "b", Description: "never runs", Dependencies: []string{"a"}},
		},
		ParallelGroups: [][]string{{"a"}, {"b"}},
	}

	_, err := orch.CoordinateWorkers(context.Background(), plan, CoordinateOptions{FailFast: true})
	if err == nil {
		t.Fatal("expected fail-fast error")
	}
	for _, id := range runner.started() {
		if id == "b" {
			t.Error("subtask b ran despite fail-fast abort")
		}
	}
}

func TestCoordinateWorkers_NoCapableWorker(t *testing.T) {
	runner := &recordingRunner{}
	orch := newTestOrchestrator(t, 2, runner.run, echoOracle())

	plan := &models.ExecutionPlan{
		Subtasks: []*models.Subtask{
			{ID: "a", Description: "needs gpu", RequiredCapabilities: []string{"gpu"}},
		},
		ParallelGroups: [][]string{{"a"}},
	}

	results, err := orch.CoordinateWorkers(context.Background(), plan, CoordinateOptions{})
	if err != nil {
		t.Fatalf("CoordinateWorkers failed: %v", err)
	}
	r := results["a"]
	if r == nil || r.Success || !strings.Contains(r.Error, "capabilities") {
		t.Errorf("subtask a = %+v", r)
	}
	if len(runner.started()) != 0 {
		t.Errorf("no subtask should have executed, got %v", runner.started())
	}
}

// A group wider than the pool drains in waves rather than failing.
func TestCoordinateWorkers_GroupWiderThanPool(t *testing.T) {
	runner := &recordingRunner{}
	orch := newTestOrchestrator(t, 2, runner.run, echoOracle())

	plan := &models.ExecutionPlan{
		Subtasks: []*models.Subtask{
			{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"},
		},
		ParallelGroups: [][]string{{"a", "b", "c", "d", "e"}},
	}

	results, err := orch.CoordinateWorkers(context.Background(), plan, CoordinateOptions{})
	if err != nil {
		t.Fatalf("CoordinateWorkers failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for id, r := range results {
		if !r.Success {
			t.Errorf("subtask %s failed: %s", id, r.Error)
		}
	}
}

func TestCoordinateWorkers_SequentialDependencyCheck(t *testing.T) {
	runner := &recordingRunner{}
	orch := newTestOrchestrator(t, 2, runner.run, echoOracle())

	// "b" declares a dependency that never produced a result.
	plan := &models.ExecutionPlan{
		Subtasks: []*models.Subtask{
			{ID: "b", Description: "orphan", Dependencies: []string{"a"}},
			{ID: "a", Description: "never scheduled"},
		},
		SequentialOrder: []string{"b"},
	}

	_, err := orch.CoordinateWorkers(context.Background(), plan, CoordinateOptions{})
	if !errors.Is(err, ErrDependencyNotSatisfied) {
		t.Fatalf("error = %v, want ErrDependencyNotSatisfied", err)
	}
}

func TestAggregateResults(t *testing.T) {
	var captured string
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		captured = req.Prompt
		return "  final answer\n", nil
	})
	orch := newTestOrchestrator(t, 1, (&recordingRunner{}).run, o)

	now := time.Now()
	results := map[string]*models.SubtaskResult{
		"a": {SubtaskID: "a", Output: "part one", Success: true, TokensUsed: 10, StartedAt: now, CompletedAt: now.Add(time.Second)},
		"b": {SubtaskID: "b", Error: "broke", StartedAt: now, CompletedAt: now.Add(2 * time.Second)},
	}

	agg, err := orch.AggregateResults(context.Background(), results, models.Task{Description: "the task"})
	if err != nil {
		t.Fatalf("AggregateResults failed: %v", err)
	}

	if agg.FinalResult != "final answer" {
		t.Errorf("FinalResult = %q", agg.FinalResult)
	}
	if agg.Success {
		t.Error("Success should be false when any subtask failed")
	}
	if agg.SubtasksCompleted != 1 {
		t.Errorf("SubtasksCompleted = %d, want 1", agg.SubtasksCompleted)
	}
	if agg.TotalTokensUsed != 10 {
		t.Errorf("TotalTokensUsed = %d, want 10", agg.TotalTokensUsed)
	}
	if agg.TotalDuration != 3*time.Second {
		t.Errorf("TotalDuration = %v, want 3s", agg.TotalDuration)
	}
	if !strings.Contains(captured, "part one") || !strings.Contains(captured, "FAILED") {
		t.Errorf("aggregation prompt missing outputs:\n%s", captured)
	}
}

func TestAggregateResults_OracleFailure(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return "", errors.New("api down")
	})
	orch := newTestOrchestrator(t, 1, (&recordingRunner{}).run, o)

	_, err := orch.AggregateResults(context.Background(), map[string]*models.SubtaskResult{
		"a": {SubtaskID: "a", Output: "x", Success: true},
	}, models.Task{})
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("error = %v, want ErrAggregation", err)
	}
}

func TestCancelTask_Unknown(t *testing.T) {
	orch := newTestOrchestrator(t, 1, (&recordingRunner{}).run, echoOracle())
	if res := orch.CancelTask("ghost"); res.Success {
		t.Error("cancelling an unknown task should report Success=false")
	}
}

func TestSelectionPolicies(t *testing.T) {
	workers := []models.Worker{
		{ID: "w1", TotalTasks: 5, SuccessRate: 0.9},
		{ID: "w2", TotalTasks: 2, SuccessRate: 0.8},
		{ID: "w3", TotalTasks: 2, SuccessRate: 0.95},
	}

	rr := NewRoundRobin()
	if got := rr.Select(workers); got != "w1" {
		t.Errorf("round robin first pick = %q, want w1", got)
	}
	if got := rr.Select(workers); got != "w2" {
		t.Errorf("round robin second pick = %q, want w2", got)
	}
	if got := rr.Select(nil); got != "" {
		t.Errorf("round robin with no candidates = %q, want empty", got)
	}

	ll := NewLeastLoaded()
	if got := ll.Select(workers); got != "w3" {
		t.Errorf("least loaded pick = %q, want w3 (tie broken by success rate)", got)
	}
	if got := ll.Select(nil); got != "" {
		t.Errorf("least loaded with no candidates = %q, want empty", got)
	}
}
