// Package quality scores produced results on weighted dimensions, gates
// acceptance behind adaptive thresholds, decides retry-worthiness, and
// learns threshold adjustments from evaluation history.
package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// ErrQualityEvaluation indicates the evaluation oracle call failed.
// Evaluation failures are never swallowed.
var ErrQualityEvaluation = errors.New("quality evaluation failed")

// DefaultDimensions are the scoring dimensions used when none are
// configured. The set is extensible via WithDimensions.
var DefaultDimensions = []string{"accuracy", "completeness", "clarity", "relevance"}

const (
	// retryConfidenceFloor is the evaluator confidence below which a
	// retry is never driven, regardless of score.
	retryConfidenceFloor = 0.6
	// retryGapThreshold is the combined score-gap-plus-spread above which
	// a failing result is worth another attempt.
	retryGapThreshold = 0.1
	// maxThresholdStep bounds each adaptive threshold update to prevent
	// oscillation.
	maxThresholdStep = 0.05
	// DefaultHistoryLimit caps the feedback history (FIFO eviction).
	DefaultHistoryLimit = 100
	// DefaultTrendWindow is how many recent scores the trend analysis
	// regresses over.
	DefaultTrendWindow = 20
	// trendSlopeThreshold separates improving/declining from stable.
	trendSlopeThreshold = 0.01
)

// evaluationPrompt scores a result across quality dimensions.
const evaluationPrompt = `Evaluate the quality of this result for the given task.

Task: %s
Task type: %s

Result:
%s

Score each dimension from 0.0 to 1.0: %s.

Respond with ONLY a JSON object in this exact shape:
{
  "overall_score": 0.0,
  "dimensions": {%s},
  "strengths": ["..."],
  "weaknesses": ["..."],
  "confidence": 0.0
}`

// evalResponse is the JSON payload returned by the evaluation oracle.
type evalResponse struct {
	OverallScore float64            `json:"overall_score"`
	Dimensions   map[string]float64 `json:"dimensions"`
	Strengths    []string           `json:"strengths"`
	Weaknesses   []string           `json:"weaknesses"`
	Confidence   float64            `json:"confidence"`
}

// Controller evaluates results, gates them against adaptive thresholds,
// and maintains the feedback loop over quality scores.
type Controller struct {
	oracle    oracle.Oracle
	processor *FeedbackProcessor

	mu           sync.RWMutex
	thresholds   models.QualityThresholds
	dimensions   []string
	history      []models.FeedbackEntry
	historyLimit int
	scores       []float64
	avgScore     float64
	trendWindow  int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithThresholds sets the initial quality thresholds. Invalid thresholds
// are ignored in favor of the defaults.
func WithThresholds(t models.QualityThresholds) ControllerOption {
	return func(c *Controller) {
		if t.Valid() {
			c.thresholds = t
		}
	}
}

// WithDimensions overrides the scoring dimension set.
func WithDimensions(dims []string) ControllerOption {
	return func(c *Controller) {
		if len(dims) > 0 {
			c.dimensions = append([]string{}, dims...)
		}
	}
}

// WithProcessor overrides the feedback processor.
func WithProcessor(p *FeedbackProcessor) ControllerOption {
	return func(c *Controller) {
		if p != nil {
			c.processor = p
		}
	}
}

// WithHistoryLimit overrides the feedback history cap.
func WithHistoryLimit(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithTrendWindow overrides the trend analysis window.
func WithTrendWindow(n int) ControllerOption {
	return func(c *Controller) {
		if n >= 2 {
			c.trendWindow = n
		}
	}
}

// NewController creates a quality controller backed by the given oracle.
func NewController(o oracle.Oracle, opts ...ControllerOption) *Controller {
	c := &Controller{
		oracle:       o,
		processor:    NewFeedbackProcessor(),
		thresholds:   models.DefaultThresholds(),
		dimensions:   append([]string{}, DefaultDimensions...),
		historyLimit: DefaultHistoryLimit,
		trendWindow:  DefaultTrendWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate scores the result on the configured dimensions and decides
// pass/fail against the minimum threshold. The score is folded into the
// controller's cumulative running average. Oracle failure is reported as
// ErrQualityEvaluation.
func (c *Controller) Evaluate(ctx context.Context, result string, task models.Task) (*models.Evaluation, error) {
	c.mu.RLock()
	dims := append([]string{}, c.dimensions...)
	minimum := c.thresholds.Minimum
	c.mu.RUnlock()

	dimFields := make([]string, len(dims))
	for i, d := range dims {
		dimFields[i] = fmt.Sprintf("%q: 0.0", d)
	}
	prompt := fmt.Sprintf(evaluationPrompt,
		task.Description, task.Type, result,
		strings.Join(dims, ", "), strings.Join(dimFields, ", "))

	raw, err := c.oracle.Complete(ctx, oracle.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQualityEvaluation, err)
	}

	var resp evalResponse
	if err := oracle.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrQualityEvaluation, err)
	}

	eval := &models.Evaluation{
		OverallScore: clamp01(resp.OverallScore),
		Dimensions:   make(map[string]float64, len(resp.Dimensions)),
		Strengths:    resp.Strengths,
		Weaknesses:   resp.Weaknesses,
		Confidence:   clamp01(resp.Confidence),
	}
	for name, score := range resp.Dimensions {
		eval.Dimensions[name] = clamp01(score)
	}
	eval.Passed = eval.OverallScore >= minimum

	c.mu.Lock()
	n := float64(len(c.scores))
	c.avgScore = (c.avgScore*n + eval.OverallScore) / (n + 1)
	c.scores = append(c.scores, eval.OverallScore)
	c.mu.Unlock()

	return eval, nil
}

// ShouldRetry decides whether a failing evaluation justifies another
// attempt. Retries are never driven by exhausted budgets, passing
// results, or low-confidence evaluations; otherwise a low score or a
// high cross-dimension variance justifies the retry.
func (c *Controller) ShouldRetry(eval *models.Evaluation, retryCount, maxRetries int) bool {
	if retryCount >= maxRetries {
		return false
	}
	if eval.Passed {
		return false
	}
	if eval.Confidence < retryConfidenceFloor {
		return false
	}

	c.mu.RLock()
	target := c.thresholds.Target
	c.mu.RUnlock()

	return (target-eval.OverallScore)+eval.DimensionSpread() > retryGapThreshold
}

// ProvideFeedback generates improvement suggestions for a failing
// evaluation and appends the entry to the capped feedback history.
func (c *Controller) ProvideFeedback(task models.Task, eval *models.Evaluation) []string {
	c.mu.RLock()
	processor := c.processor
	c.mu.RUnlock()
	improvements := processor.Improvements(task, eval)

	c.mu.Lock()
	c.history = append(c.history, models.FeedbackEntry{
		Evaluation:   *eval,
		Improvements: improvements,
		Task:         task,
		Timestamp:    time.Now(),
	})
	if len(c.history) > c.historyLimit {
		c.history = c.history[len(c.history)-c.historyLimit:]
	}
	c.mu.Unlock()

	return improvements
}

// UpdateThresholds asks the feedback processor for adjusted thresholds
// and applies them, clamped to the safety floors and to a bounded step
// per update. Returns the resulting thresholds and whether they changed.
func (c *Controller) UpdateThresholds() (models.QualityThresholds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proposed, ok := c.processor.ComputeThresholds(c.scores, c.thresholds)
	if !ok {
		return c.thresholds, false
	}

	current := c.thresholds
	next := models.QualityThresholds{
		Minimum:   stepToward(current.Minimum, proposed.Minimum),
		Target:    stepToward(current.Target, proposed.Target),
		Excellent: stepToward(current.Excellent, proposed.Excellent),
	}

	// Safety floors are never relaxed.
	if next.Minimum < models.MinimumFloor {
		next.Minimum = models.MinimumFloor
	}
	if next.Target < models.TargetFloor {
		next.Target = models.TargetFloor
	}
	if next.Excellent < models.ExcellentFloor {
		next.Excellent = models.ExcellentFloor
	}

	// Keep the bands strictly increasing and within range.
	if next.Target <= next.Minimum {
		next.Target = next.Minimum + 0.01
	}
	if next.Excellent <= next.Target {
		next.Excellent = next.Target + 0.01
	}
	if next.Excellent > 1.0 {
		next.Excellent = 1.0
	}

	changed := next != current
	c.thresholds = next
	return next, changed
}

// stepToward moves current toward proposed, bounded by maxThresholdStep.
func stepToward(current, proposed float64) float64 {
	delta := proposed - current
	if delta > maxThresholdStep {
		delta = maxThresholdStep
	}
	if delta < -maxThresholdStep {
		delta = -maxThresholdStep
	}
	return current + delta
}

// Thresholds returns the current quality thresholds.
func (c *Controller) Thresholds() models.QualityThresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// AverageScore returns the cumulative running average of all evaluation
// scores seen so far.
func (c *Controller) AverageScore() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.avgScore
}

// History returns a copy of the feedback history, oldest first.
func (c *Controller) History() []models.FeedbackEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.FeedbackEntry{}, c.history...)
}

// TrendDirection classifies the recent score trajectory.
type TrendDirection string

const (
	// TrendImproving indicates scores are rising.
	TrendImproving TrendDirection = "improving"
	// TrendDeclining indicates scores are falling.
	TrendDeclining TrendDirection = "declining"
	// TrendStable indicates no significant movement.
	TrendStable TrendDirection = "stable"
)

// TrendReport summarizes the recent score trajectory.
type TrendReport struct {
	// Direction is the classified trajectory.
	Direction TrendDirection
	// Slope is the linear-regression slope over the window.
	Slope float64
	// Window is the number of scores regressed over.
	Window int
}

// Trend fits a linear regression over the most recent score window and
// classifies the slope as improving, declining, or stable.
func (c *Controller) Trend() TrendReport {
	c.mu.RLock()
	scores := c.scores
	if len(scores) > c.trendWindow {
		scores = scores[len(scores)-c.trendWindow:]
	}
	window := append([]float64{}, scores...)
	c.mu.RUnlock()

	report := TrendReport{Direction: TrendStable, Window: len(window)}
	if len(window) < 2 {
		return report
	}

	// Least-squares slope with x = 0..n-1.
	n := float64(len(window))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	report.Slope = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)

	switch {
	case report.Slope > trendSlopeThreshold:
		report.Direction = TrendImproving
	case report.Slope < -trendSlopeThreshold:
		report.Direction = TrendDeclining
	}
	return report
}

// clamp01 bounds a score to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
