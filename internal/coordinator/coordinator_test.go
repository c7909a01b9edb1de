package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// engineOracle routes prompts by their opening line so one fake serves
// complexity analysis, evaluation, decomposition, and generation.
type engineOracle struct {
	complexityScore float64
	evalScore       float64
	generations     int32
}

func (f *engineOracle) Complete(ctx context.Context, req oracle.Request) (string, error) {
	switch {
	case strings.HasPrefix(req.Prompt, "Analyze the complexity"):
		return fmt.Sprintf(`{"score": %v, "factors": ["size"], "estimated_seconds": 10, "complexity": ""}`, f.complexityScore), nil
	case strings.HasPrefix(req.Prompt, "Evaluate the quality"):
		return fmt.Sprintf(`{
			"overall_score": %v,
			"dimensions": {"accuracy": %v, "completeness": 0.2},
			"weaknesses": ["thin"],
			"confidence": 0.9
		}`, f.evalScore, f.evalScore), nil
	case strings.HasPrefix(req.Prompt, "Decompose"):
		return `{"subtasks": [{"id": "only", "description": "do it"}], "parallel_groups": [["only"]]}`, nil
	case strings.HasPrefix(req.Prompt, "The following task was split"):
		return "aggregated result", nil
	default:
		atomic.AddInt32(&f.generations, 1)
		return "generated result", nil
	}
}

func newTestCoordinator(t *testing.T, o oracle.Oracle) *Coordinator {
	t.Helper()
	wp, err := pool.New(pool.Config{
		Size: 2,
		Runner: func(ctx context.Context, w models.Worker, task models.Task) (pool.RunResult, error) {
			return pool.RunResult{Output: "worker output", TokensUsed: 3}, nil
		},
	})
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	c, err := New(Config{
		Oracle:       o,
		Orchestrator: orchestrator.New(o, wp),
		RetryDelay:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestAnalyzeComplexity_StrategySelection(t *testing.T) {
	tests := []struct {
		score        float64
		wantStrategy models.Strategy
		wantLabel    string
	}{
		{0.3, models.StrategySingleAgent, "low"},
		{0.5, models.StrategySingleAgent, "medium"},
		{0.7, models.StrategySingleAgent, "medium"},
		{0.9, models.StrategyOrchestrator, "high"},
	}

	for _, tt := range tests {
		c := newTestCoordinator(t, &engineOracle{complexityScore: tt.score, evalScore: 0.9})
		analysis, err := c.AnalyzeComplexity(context.Background(), models.Task{Description: "work"})
		if err != nil {
			t.Fatalf("AnalyzeComplexity(%v) failed: %v", tt.score, err)
		}
		if analysis.RecommendedStrategy != tt.wantStrategy {
			t.Errorf("score %v: strategy = %q, want %q", tt.score, analysis.RecommendedStrategy, tt.wantStrategy)
		}
		if analysis.Complexity != tt.wantLabel {
			t.Errorf("score %v: label = %q, want %q", tt.score, analysis.Complexity, tt.wantLabel)
		}
	}
}

func TestAnalyzeComplexity_ClampsScore(t *testing.T) {
	c := newTestCoordinator(t, &engineOracle{complexityScore: 2.5, evalScore: 0.9})
	analysis, err := c.AnalyzeComplexity(context.Background(), models.Task{})
	if err != nil {
		t.Fatalf("AnalyzeComplexity failed: %v", err)
	}
	if analysis.Score != 1.0 {
		t.Errorf("Score = %v, want clamped 1.0", analysis.Score)
	}
}

func TestAnalyzeComplexity_OracleFailureFatal(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return "", errors.New("api down")
	})
	c := newTestCoordinator(t, &engineOracle{evalScore: 0.9})
	c.oracle = o

	if _, err := c.AnalyzeComplexity(context.Background(), models.Task{}); !errors.Is(err, ErrComplexityAnalysis) {
		t.Fatalf("error = %v, want ErrComplexityAnalysis", err)
	}
}

func TestExecuteTask_SingleAgentSuccess(t *testing.T) {
	c := newTestCoordinator(t, &engineOracle{complexityScore: 0.3, evalScore: 0.9})

	rec := c.ExecuteTask(context.Background(), models.Task{Description: "easy"}, ExecuteOptions{})
	if !rec.Success {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Strategy != models.StrategySingleAgent {
		t.Errorf("strategy = %q", rec.Strategy)
	}
	if rec.Result != "generated result" {
		t.Errorf("result = %q", rec.Result)
	}
	if rec.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0", rec.RetryCount)
	}
}

func TestExecuteTask_OrchestratedSuccess(t *testing.T) {
	c := newTestCoordinator(t, &engineOracle{complexityScore: 0.9, evalScore: 0.9})

	rec := c.ExecuteTask(context.Background(), models.Task{Description: "hard"}, ExecuteOptions{})
	if !rec.Success {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Strategy != models.StrategyOrchestrator {
		t.Errorf("strategy = %q", rec.Strategy)
	}
	if rec.Result != "aggregated result" {
		t.Errorf("result = %q", rec.Result)
	}
}

// A generator that always scores below minimum terminates after exactly
// maxRetries attempts with a failure record.
func TestExecuteTask_RetriesExhausted(t *testing.T) {
	o := &engineOracle{complexityScore: 0.3, evalScore: 0.4}
	c := newTestCoordinator(t, o)

	rec := c.ExecuteTask(context.Background(), models.Task{Description: "hopeless"}, ExecuteOptions{MaxRetries: 2})
	if rec.Success {
		t.Fatal("record should report failure")
	}
	if rec.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", rec.RetryCount)
	}
	if got := atomic.LoadInt32(&o.generations); got != 2 {
		t.Errorf("generation attempts = %d, want exactly 2", got)
	}
	if rec.Error == "" {
		t.Error("failure record should carry a human-readable error")
	}
	if rec.Quality == nil || rec.Quality.Passed {
		t.Errorf("quality = %+v", rec.Quality)
	}
}

func TestExecuteTask_MetricsAccumulate(t *testing.T) {
	c := newTestCoordinator(t, &engineOracle{complexityScore: 0.3, evalScore: 0.9})

	c.ExecuteTask(context.Background(), models.Task{Description: "a"}, ExecuteOptions{})
	c.ExecuteTask(context.Background(), models.Task{Description: "b"}, ExecuteOptions{})

	m := c.Metrics()
	if m.TotalTasks != 2 || m.SuccessfulTasks != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

// Sink failures are logged, never propagated into the record.
type failingSink struct{ calls int32 }

func (s *failingSink) Record(ctx context.Context, rec *Record) error {
	atomic.AddInt32(&s.calls, 1)
	return errors.New("disk full")
}

func TestExecuteTask_SinkBestEffort(t *testing.T) {
	o := &engineOracle{complexityScore: 0.3, evalScore: 0.9}
	sink := &failingSink{}
	wp, _ := pool.New(pool.Config{Size: 1, Runner: func(ctx context.Context, w models.Worker, task models.Task) (pool.RunResult, error) {
		return pool.RunResult{}, nil
	}})
	c, err := New(Config{
		Oracle:       o,
		Orchestrator: orchestrator.New(o, wp),
		RetryDelay:   time.Millisecond,
		Sink:         sink,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec := c.ExecuteTask(context.Background(), models.Task{Description: "a"}, ExecuteOptions{})
	if !rec.Success {
		t.Fatalf("record = %+v", rec)
	}
	if atomic.LoadInt32(&sink.calls) != 1 {
		t.Errorf("sink calls = %d, want 1", sink.calls)
	}
}

func TestNew_RequiredFields(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without Oracle")
	}
	o := &engineOracle{}
	if _, err := New(Config{Oracle: o}); err == nil {
		t.Error("expected error without Orchestrator")
	}
}
