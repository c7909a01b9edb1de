package quality

import (
	"fmt"
	"sort"

	"github.com/taskmesh/taskmesh/pkg/models"
)

const (
	// DefaultAdaptationRate scales how far thresholds move toward recent
	// performance per update.
	DefaultAdaptationRate = 0.1
	// DefaultMinSamples is how many scores are required before threshold
	// adaptation kicks in.
	DefaultMinSamples = 10
	// weakDimensionGap is how far below the cross-dimension mean a
	// dimension must fall to be flagged weak.
	weakDimensionGap = 0.1
)

// Offsets from the recent mean that each threshold band adapts toward.
const (
	minimumOffset   = -0.15
	targetOffset    = 0.0
	excellentOffset = 0.1
)

// dimensionRemedies maps weak dimensions to remediation templates.
// The %s placeholder receives the task type.
var dimensionRemedies = map[string]string{
	"accuracy":     "verify factual claims against the %s task's source material before finalizing",
	"completeness": "cover every requirement stated in the %s task, not just the primary one",
	"clarity":      "restructure the answer with a clear progression; lead with the conclusion for %s output",
	"relevance":    "cut content that does not directly serve the %s task's request",
}

// taskTypeRemedies maps task types to type-specific suggestions applied
// regardless of which dimensions are weak.
var taskTypeRemedies = map[string]string{
	"research":   "cite where each finding came from so the result can be checked",
	"analysis":   "state the assumptions behind each conclusion explicitly",
	"synthesis":  "reconcile conflicting inputs instead of presenting them side by side",
	"generation": "match the format and tone requested in the task description",
	"code":       "include error handling and note any untested paths",
}

// FeedbackProcessor turns failing evaluations into remediation
// suggestions and computes adaptive threshold proposals from history.
type FeedbackProcessor struct {
	adaptationRate float64
	minSamples     int
}

// ProcessorOption configures a FeedbackProcessor.
type ProcessorOption func(*FeedbackProcessor)

// WithAdaptationRate overrides the adaptation rate. Values outside (0,1]
// are ignored.
func WithAdaptationRate(rate float64) ProcessorOption {
	return func(p *FeedbackProcessor) {
		if rate > 0 && rate <= 1 {
			p.adaptationRate = rate
		}
	}
}

// WithMinSamples overrides how many scores adaptation requires.
func WithMinSamples(n int) ProcessorOption {
	return func(p *FeedbackProcessor) {
		if n > 0 {
			p.minSamples = n
		}
	}
}

// NewFeedbackProcessor creates a processor with default tuning.
func NewFeedbackProcessor(opts ...ProcessorOption) *FeedbackProcessor {
	p := &FeedbackProcessor{
		adaptationRate: DefaultAdaptationRate,
		minSamples:     DefaultMinSamples,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WeakDimensions returns the dimensions scoring more than
// weakDimensionGap below the cross-dimension mean, sorted by name.
func (p *FeedbackProcessor) WeakDimensions(eval *models.Evaluation) []string {
	if len(eval.Dimensions) == 0 {
		return nil
	}

	var sum float64
	for _, score := range eval.Dimensions {
		sum += score
	}
	mean := sum / float64(len(eval.Dimensions))

	var weak []string
	for name, score := range eval.Dimensions {
		if mean-score > weakDimensionGap {
			weak = append(weak, name)
		}
	}
	sort.Strings(weak)
	return weak
}

// Improvements emits dimension- and task-type-specific remediation
// suggestions for a failing evaluation.
func (p *FeedbackProcessor) Improvements(task models.Task, eval *models.Evaluation) []string {
	taskType := task.Type
	if taskType == "" {
		taskType = "general"
	}

	var suggestions []string
	for _, dim := range p.WeakDimensions(eval) {
		if tmpl, ok := dimensionRemedies[dim]; ok {
			suggestions = append(suggestions, fmt.Sprintf(tmpl, taskType))
		} else {
			suggestions = append(suggestions, fmt.Sprintf("improve the %s dimension, which scored well below the others", dim))
		}
	}

	if remedy, ok := taskTypeRemedies[task.Type]; ok {
		suggestions = append(suggestions, remedy)
	}

	// Echo the evaluator's own weaknesses when nothing dimension-specific
	// stood out.
	if len(suggestions) == 0 {
		for _, w := range eval.Weaknesses {
			suggestions = append(suggestions, "address: "+w)
		}
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "raise overall quality; the result scored below the acceptance threshold")
	}
	return suggestions
}

// ComputeThresholds proposes new thresholds nudged toward recent
// performance, scaled by the adaptation rate. Requires at least
// minSamples scores; returns ok=false otherwise. The caller is expected
// to clamp the proposal to its safety floors and step bounds.
func (p *FeedbackProcessor) ComputeThresholds(scores []float64, current models.QualityThresholds) (models.QualityThresholds, bool) {
	if len(scores) < p.minSamples {
		return current, false
	}

	recent := scores
	if len(recent) > p.minSamples {
		recent = recent[len(recent)-p.minSamples:]
	}
	var sum float64
	for _, s := range recent {
		sum += s
	}
	mean := sum / float64(len(recent))

	nudge := func(t, offset float64) float64 {
		return t + p.adaptationRate*((mean+offset)-t)
	}
	return models.QualityThresholds{
		Minimum:   nudge(current.Minimum, minimumOffset),
		Target:    nudge(current.Target, targetOffset),
		Excellent: nudge(current.Excellent, excellentOffset),
	}, true
}
