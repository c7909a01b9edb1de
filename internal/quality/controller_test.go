package quality

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/pkg/models"
)

func evalOracle(score, confidence float64) oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return fmt.Sprintf(`{
			"overall_score": %v,
			"dimensions": {"accuracy": %v, "completeness": %v},
			"strengths": ["concise"],
			"weaknesses": ["shallow"],
			"confidence": %v
		}`, score, score, score, confidence), nil
	})
}

func TestEvaluate_PassFail(t *testing.T) {
	c := NewController(evalOracle(0.9, 0.8))
	eval, err := c.Evaluate(context.Background(), "a result", models.Task{Description: "t"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !eval.Passed {
		t.Errorf("score 0.9 should pass the 0.7 minimum: %+v", eval)
	}

	c = NewController(evalOracle(0.5, 0.8))
	eval, err = c.Evaluate(context.Background(), "a result", models.Task{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.Passed {
		t.Errorf("score 0.5 should fail the 0.7 minimum: %+v", eval)
	}
}

func TestEvaluate_ClampsScores(t *testing.T) {
	c := NewController(evalOracle(1.7, -0.2))
	eval, err := c.Evaluate(context.Background(), "r", models.Task{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.OverallScore != 1.0 {
		t.Errorf("OverallScore = %v, want clamped 1.0", eval.OverallScore)
	}
	if eval.Confidence != 0.0 {
		t.Errorf("Confidence = %v, want clamped 0.0", eval.Confidence)
	}
}

func TestEvaluate_OracleFailure(t *testing.T) {
	c := NewController(oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return "", errors.New("api down")
	}))
	if _, err := c.Evaluate(context.Background(), "r", models.Task{}); !errors.Is(err, ErrQualityEvaluation) {
		t.Fatalf("error = %v, want ErrQualityEvaluation", err)
	}
}

func TestEvaluate_RunningAverage(t *testing.T) {
	c := NewController(evalOracle(0.8, 0.9))
	c.Evaluate(context.Background(), "r", models.Task{})
	c.Evaluate(context.Background(), "r", models.Task{})

	got := c.AverageScore()
	if got < 0.799 || got > 0.801 {
		t.Errorf("AverageScore() = %v, want 0.8", got)
	}
}

func TestShouldRetry(t *testing.T) {
	c := NewController(nil)

	failing := &models.Evaluation{
		OverallScore: 0.5,
		Dimensions:   map[string]float64{"accuracy": 0.7, "completeness": 0.3},
		Confidence:   0.9,
	}

	tests := []struct {
		name       string
		eval       *models.Evaluation
		retryCount int
		maxRetries int
		want       bool
	}{
		{"worth retrying", failing, 0, 3, true},
		{"budget exhausted", failing, 3, 3, false},
		{"budget exceeded", failing, 4, 3, false},
		{"passed result never retries", &models.Evaluation{OverallScore: 0.9, Passed: true, Confidence: 0.9}, 0, 3, false},
		{"low-confidence evaluation never retries", &models.Evaluation{OverallScore: 0.2, Confidence: 0.3}, 0, 3, false},
		{"near-target uniform result not worth retrying", &models.Evaluation{
			OverallScore: 0.8,
			Dimensions:   map[string]float64{"accuracy": 0.8, "completeness": 0.8},
			Confidence:   0.9,
		}, 0, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ShouldRetry(tt.eval, tt.retryCount, tt.maxRetries); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProvideFeedback_HistoryCapped(t *testing.T) {
	c := NewController(nil, WithHistoryLimit(3))
	eval := &models.Evaluation{OverallScore: 0.5, Weaknesses: []string{"thin"}}

	for i := 0; i < 5; i++ {
		improvements := c.ProvideFeedback(models.Task{ID: fmt.Sprintf("t%d", i)}, eval)
		if len(improvements) == 0 {
			t.Fatal("expected at least one improvement suggestion")
		}
	}

	history := c.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Oldest entries evicted first.
	if history[0].Task.ID != "t2" {
		t.Errorf("oldest retained entry = %q, want t2", history[0].Task.ID)
	}
}

// Thresholds never fall below the safety floors, even under a history of
// zero scores.
func TestUpdateThresholds_FloorsHold(t *testing.T) {
	c := NewController(nil, WithProcessor(NewFeedbackProcessor(WithMinSamples(5))))

	c.mu.Lock()
	c.scores = []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	c.mu.Unlock()

	// Repeated updates walk the thresholds down until the floors stop them.
	for i := 0; i < 50; i++ {
		c.UpdateThresholds()
	}

	th := c.Thresholds()
	if th.Minimum < models.MinimumFloor {
		t.Errorf("Minimum = %v, below floor %v", th.Minimum, models.MinimumFloor)
	}
	if th.Target < models.TargetFloor {
		t.Errorf("Target = %v, below floor %v", th.Target, models.TargetFloor)
	}
	if th.Excellent < models.ExcellentFloor {
		t.Errorf("Excellent = %v, below floor %v", th.Excellent, models.ExcellentFloor)
	}
	if !(th.Minimum < th.Target && th.Target < th.Excellent) {
		t.Errorf("thresholds not strictly increasing: %+v", th)
	}
}

func TestUpdateThresholds_StepBounded(t *testing.T) {
	c := NewController(nil, WithProcessor(NewFeedbackProcessor(WithMinSamples(3), WithAdaptationRate(1.0))))

	c.mu.Lock()
	c.scores = []float64{1.0, 1.0, 1.0}
	c.mu.Unlock()

	before := c.Thresholds()
	after, changed := c.UpdateThresholds()
	if !changed {
		t.Fatal("expected thresholds to change")
	}
	if diff := after.Minimum - before.Minimum; diff > maxThresholdStep+1e-9 {
		t.Errorf("Minimum moved %v in one update, max step is %v", diff, maxThresholdStep)
	}
}

func TestUpdateThresholds_InsufficientSamples(t *testing.T) {
	c := NewController(nil)
	before := c.Thresholds()
	after, changed := c.UpdateThresholds()
	if changed || after != before {
		t.Errorf("thresholds changed with no samples: %+v", after)
	}
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   TrendDirection
	}{
		{"improving", []float64{0.5, 0.6, 0.7, 0.8, 0.9}, TrendImproving},
		{"declining", []float64{0.9, 0.8, 0.7, 0.6, 0.5}, TrendDeclining},
		{"stable", []float64{0.8, 0.8, 0.8, 0.8}, TrendStable},
		{"too few samples", []float64{0.9}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(nil)
			c.mu.Lock()
			c.scores = tt.scores
			c.mu.Unlock()

			report := c.Trend()
			if report.Direction != tt.want {
				t.Errorf("Trend().Direction = %q (slope %v), want %q", report.Direction, report.Slope, tt.want)
			}
		})
	}
}

func TestTrend_WindowLimited(t *testing.T) {
	c := NewController(nil, WithTrendWindow(3))
	c.mu.Lock()
	// Old declining scores followed by a rising window.
	c.scores = []float64{0.9, 0.8, 0.2, 0.5, 0.8}
	c.mu.Unlock()

	report := c.Trend()
	if report.Window != 3 {
		t.Errorf("Window = %d, want 3", report.Window)
	}
	if report.Direction != TrendImproving {
		t.Errorf("Direction = %q, want improving over recent window", report.Direction)
	}
}
