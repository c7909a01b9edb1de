package models

import "time"

// Safety floors for quality thresholds. Adaptive updates never relax
// thresholds below these values.
const (
	// MinimumFloor is the lowest allowed acceptance threshold.
	MinimumFloor = 0.6
	// TargetFloor is the lowest allowed target threshold.
	TargetFloor = 0.75
	// ExcellentFloor is the lowest allowed excellence threshold.
	ExcellentFloor = 0.9
)

// Evaluation is a multi-dimensional quality score of a produced result.
type Evaluation struct {
	// OverallScore is the weighted overall quality in [0,1].
	OverallScore float64 `json:"overall_score"`
	// Dimensions maps dimension names (accuracy, completeness, ...) to
	// their scores in [0,1].
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	// Strengths lists what the result did well.
	Strengths []string `json:"strengths,omitempty"`
	// Weaknesses lists where the result fell short.
	Weaknesses []string `json:"weaknesses,omitempty"`
	// Confidence is how confident the evaluator is in this evaluation.
	Confidence float64 `json:"confidence"`
	// Passed indicates the overall score met the minimum threshold.
	Passed bool `json:"passed"`
}

// DimensionSpread returns the gap between the highest and lowest
// dimension scores. Zero when fewer than two dimensions are present.
func (e *Evaluation) DimensionSpread() float64 {
	if len(e.Dimensions) < 2 {
		return 0
	}
	first := true
	var min, max float64
	for _, score := range e.Dimensions {
		if first {
			min, max = score, score
			first = false
			continue
		}
		if score < min {
			min = score
		}
		if score > max {
			max = score
		}
	}
	return max - min
}

// QualityThresholds holds the acceptance bands for evaluations.
// Invariant: Minimum < Target < Excellent, all in [0,1], Minimum >= MinimumFloor.
type QualityThresholds struct {
	// Minimum is the score below which a result is rejected.
	Minimum float64 `json:"minimum" yaml:"minimum"`
	// Target is the score the engine adapts toward.
	Target float64 `json:"target" yaml:"target"`
	// Excellent marks outstanding results.
	Excellent float64 `json:"excellent" yaml:"excellent"`
}

// DefaultThresholds returns the initial quality thresholds.
func DefaultThresholds() QualityThresholds {
	return QualityThresholds{Minimum: 0.7, Target: 0.85, Excellent: 0.95}
}

// Valid returns true if the thresholds are strictly increasing, within
// [0,1], and respect the safety floors.
func (t QualityThresholds) Valid() bool {
	return t.Minimum >= MinimumFloor &&
		t.Minimum < t.Target &&
		t.Target < t.Excellent &&
		t.Excellent <= 1.0
}

// FeedbackEntry records one rejected evaluation together with the
// improvement suggestions generated for the retry.
type FeedbackEntry struct {
	// Evaluation is the failing evaluation.
	Evaluation Evaluation `json:"evaluation"`
	// Improvements lists the remediation suggestions.
	Improvements []string `json:"improvements,omitempty"`
	// Task is the task whose result was evaluated.
	Task Task `json:"task"`
	// Timestamp is when the feedback was recorded.
	Timestamp time.Time `json:"timestamp"`
}
