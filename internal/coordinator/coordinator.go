// Package coordinator is the engine façade: it classifies task
// complexity, picks an execution strategy, selects an executor, and runs
// the analyze-execute-evaluate-retry state machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/quality"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// ErrComplexityAnalysis indicates the complexity oracle call failed.
// This failure is fatal and non-retryable for the whole task.
var ErrComplexityAnalysis = errors.New("complexity analysis failed")

// Default retry tuning.
const (
	// DefaultMaxRetries caps attempts per task (initial attempt included).
	DefaultMaxRetries = 3
	// DefaultRetryDelay is slept between attempts.
	DefaultRetryDelay = 1 * time.Second
)

// complexityPrompt asks the oracle to score how hard a task is.
const complexityPrompt = `Analyze the complexity of this task.

Task: %s
Type: %s
Requirements: %s

Respond with ONLY a JSON object in this exact shape:
{
  "score": 0.0,
  "factors": ["what makes it simple or complex"],
  "estimated_seconds": 60,
  "complexity": "low|medium|high"
}

score is in [0,1]: 0 is trivial, 1 is maximally complex.`

// complexityResponse is the JSON payload returned by the complexity oracle.
type complexityResponse struct {
	Score            float64  `json:"score"`
	Factors          []string `json:"factors"`
	EstimatedSeconds int      `json:"estimated_seconds"`
	Complexity       string   `json:"complexity"`
}

// Record is the final result record for one task execution. It always
// carries the success flag plus either a populated result or a
// human-readable error and the retry count; the engine never lets a
// failure escape as anything else.
type Record struct {
	// TaskID identifies the executed task.
	TaskID string `json:"task_id"`
	// Success indicates the result passed the quality gate.
	Success bool `json:"success"`
	// Strategy is the execution strategy used.
	Strategy models.Strategy `json:"strategy,omitempty"`
	// Result is the accepted output, empty on failure.
	Result string `json:"result,omitempty"`
	// Error is the human-readable failure reason, empty on success.
	Error string `json:"error,omitempty"`
	// Quality is the last evaluation, when one was produced.
	Quality *models.Evaluation `json:"quality,omitempty"`
	// RetryCount is how many failed attempts were recorded.
	RetryCount int `json:"retry_count"`
	// Duration is the end-to-end execution time.
	Duration time.Duration `json:"duration"`
	// TokensUsed is the reasoning budget consumed, where known.
	TokensUsed int64 `json:"tokens_used,omitempty"`
}

// OutcomeSink receives every final record. Implementations live outside
// the core execution path (e.g. the SQLite journal); sink errors are
// logged, never propagated.
type OutcomeSink interface {
	Record(ctx context.Context, rec *Record) error
}

// Config contains configuration options for the Coordinator.
type Config struct {
	// Oracle is the reasoning capability. Required.
	Oracle oracle.Oracle
	// Orchestrator drives decomposed execution. Required.
	Orchestrator *orchestrator.Orchestrator
	// Quality gates results. If nil, a default controller is created
	// over Oracle.
	Quality *quality.Controller
	// Registry holds the executable agents. If nil, an empty registry is
	// created.
	Registry *Registry
	// RetryDelay is slept between attempts. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
	// Sink optionally receives every final record.
	Sink OutcomeSink
}

// ExecuteOptions controls one ExecuteTask call.
type ExecuteOptions struct {
	// MaxRetries caps total attempts. Zero uses DefaultMaxRetries.
	MaxRetries int
}

// Coordinator owns the agent registry, quality controller, and metrics
// for one engine instance; there are no hidden singletons.
type Coordinator struct {
	oracle     oracle.Oracle
	orch       *orchestrator.Orchestrator
	quality    *quality.Controller
	registry   *Registry
	retryDelay time.Duration
	sink       OutcomeSink
	metrics    metricsTracker
}

// New creates a Coordinator from the given configuration.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("coordinator: Oracle is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("coordinator: Orchestrator is required")
	}

	qc := cfg.Quality
	if qc == nil {
		qc = quality.NewController(cfg.Oracle)
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	return &Coordinator{
		oracle:     cfg.Oracle,
		orch:       cfg.Orchestrator,
		quality:    qc,
		registry:   reg,
		retryDelay: delay,
		sink:       cfg.Sink,
	}, nil
}

// Registry returns the coordinator's agent registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Quality returns the coordinator's quality controller.
func (c *Coordinator) Quality() *quality.Controller {
	return c.quality
}

// Metrics returns a snapshot of the cumulative execution metrics.
func (c *Coordinator) Metrics() models.ExecutionMetrics {
	return c.metrics.snapshot()
}

// AnalyzeComplexity asks the complexity oracle to score the task and
// derives the recommended strategy: scores at or below 0.7 run
// single-agent, higher scores are decomposed. Oracle failure is fatal
// and non-retryable for the whole task.
func (c *Coordinator) AnalyzeComplexity(ctx context.Context, task models.Task) (*models.ComplexityAnalysis, error) {
	prompt := fmt.Sprintf(complexityPrompt,
		task.Description, task.Type, strings.Join(task.Requirements, ", "))

	raw, err := c.oracle.Complete(ctx, oracle.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComplexityAnalysis, err)
	}

	var resp complexityResponse
	if err := oracle.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrComplexityAnalysis, err)
	}

	score := resp.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	label := resp.Complexity
	if label == "" {
		label = models.ComplexityLabel(score)
	}

	return &models.ComplexityAnalysis{
		Score:               score,
		Factors:             resp.Factors,
		EstimatedTime:       time.Duration(resp.EstimatedSeconds) * time.Second,
		Complexity:          label,
		RecommendedStrategy: models.StrategyForScore(score),
	}, nil
}

// ExecuteTask runs the full state machine for one task:
// ANALYZE -> {SINGLE_AGENT|ORCHESTRATED} -> EVALUATE -> {ACCEPT|RETRY|FAIL}.
// Exhausting retries is reported in the record, never returned as an
// error; the record always carries a success flag and either a result or
// a human-readable error.
func (c *Coordinator) ExecuteTask(ctx context.Context, task models.Task, opts ExecuteOptions) *Record {
	started := time.Now()
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if task.ID == "" {
		task.ID = uuid.New().String()[:8]
	}

	rec := &Record{TaskID: task.ID}
	defer func() {
		rec.Duration = time.Since(started)
		c.metrics.record(rec.Success, rec.Duration, rec.TokensUsed)
		c.emit(ctx, rec)
	}()

	analysis, err := c.AnalyzeComplexity(ctx, task)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Strategy = analysis.RecommendedStrategy

	var feedback []string
	for {
		output, tokens, err := c.runAttempt(ctx, task, rec.Strategy, feedback)
		rec.TokensUsed += tokens
		if err != nil {
			// Execution failures are not quality-gated; they terminate
			// the task rather than drive the retry loop.
			rec.Error = err.Error()
			return rec
		}

		eval, err := c.quality.Evaluate(ctx, output, task)
		if err != nil {
			rec.Error = err.Error()
			return rec
		}
		rec.Quality = eval

		if eval.Passed {
			rec.Success = true
			rec.Result = output
			return rec
		}

		rec.RetryCount++
		if !c.quality.ShouldRetry(eval, rec.RetryCount, maxRetries) {
			rec.Error = fmt.Sprintf("result below quality threshold after %d attempts (score %.2f)",
				rec.RetryCount, eval.OverallScore)
			return rec
		}

		feedback = c.quality.ProvideFeedback(task, eval)

		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			rec.Error = ctx.Err().Error()
			return rec
		}
	}
}

// runAttempt executes one attempt of the task under the chosen strategy,
// returning the raw output and tokens consumed.
func (c *Coordinator) runAttempt(ctx context.Context, task models.Task, strategy models.Strategy, feedback []string) (string, int64, error) {
	content := task.Description
	if len(feedback) > 0 {
		content = fmt.Sprintf("%s\n\nFeedback from the previous attempt:\n- %s",
			task.Description, strings.Join(feedback, "\n- "))
	}

	if strategy == models.StrategyOrchestrator {
		return c.runOrchestrated(ctx, task, content)
	}
	return c.runSingleAgent(ctx, task, content)
}

// runSingleAgent invokes the best qualifying agent, degrading to a
// direct oracle call when no registered agent qualifies.
func (c *Coordinator) runSingleAgent(ctx context.Context, task models.Task, content string) (string, int64, error) {
	agent := c.registry.SelectAgent(task)
	if agent == nil {
		// No capable agent; the oracle itself generates the result.
		out, err := c.oracle.Complete(ctx, oracle.Request{Prompt: content, MaxTokens: task.MaxTokens})
		if err != nil {
			return "", 0, fmt.Errorf("single-agent generation: %w", err)
		}
		return out, 0, nil
	}

	started := time.Now()
	out, err := agent.Invoke(ctx, content)
	c.registry.RecordInvocation(agent.ID(), time.Since(started), err == nil)
	if err != nil {
		return "", 0, fmt.Errorf("agent %s: %w", agent.ID(), err)
	}
	return out, 0, nil
}

// runOrchestrated decomposes the task, drives the worker pool through
// the plan, and aggregates the subtask outputs. Decomposition and
// aggregation failures are fatal to the attempt.
func (c *Coordinator) runOrchestrated(ctx context.Context, task models.Task, content string) (string, int64, error) {
	attemptTask := task
	attemptTask.Description = content

	plan, err := c.orch.Decompose(ctx, attemptTask)
	if err != nil {
		return "", 0, err
	}

	results, err := c.orch.CoordinateWorkers(ctx, plan, orchestrator.CoordinateOptions{})
	if err != nil {
		return "", 0, err
	}

	agg, err := c.orch.AggregateResults(ctx, results, attemptTask)
	if err != nil {
		return "", 0, err
	}
	return agg.FinalResult, agg.TotalTokensUsed, nil
}

// emit delivers the final record to the outcome sink, best effort.
func (c *Coordinator) emit(ctx context.Context, rec *Record) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Record(ctx, rec); err != nil {
		log.Printf("[coordinator] outcome sink: %v", err)
	}
}
