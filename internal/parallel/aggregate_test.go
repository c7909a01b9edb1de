package parallel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/oracle"
)

func successResults(outputs ...string) []Result {
	results := make([]Result, len(outputs))
	for i, out := range outputs {
		results[i] = Result{TaskID: string(rune('a' + i)), Agent: "agent", Output: out, Success: true}
	}
	return results
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategyMerge, StrategySelectBest, StrategyCombine, StrategyVote} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Strategy("average").Valid() {
		t.Error("unknown strategy should be invalid")
	}
}

// Vote picks the most frequent canonical form with no oracle call.
func TestAggregate_Vote(t *testing.T) {
	failing := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		t.Fatal("vote must not call the oracle")
		return "", nil
	})
	e := NewExecutor(nil, failing)

	out, err := e.Aggregate(context.Background(), successResults("Paris.", "paris", "London"), StrategyVote, "capital of France")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	// First-seen original text of the winning canonical form.
	if out != "Paris." {
		t.Errorf("vote winner = %q, want %q", out, "Paris.")
	}
}

func TestAggregate_VoteTieBreaksByFirstSeen(t *testing.T) {
	e := NewExecutor(nil, noopOracle())
	out, err := e.Aggregate(context.Background(), successResults("blue", "green"), StrategyVote, "color")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if out != "blue" {
		t.Errorf("tie winner = %q, want blue", out)
	}
}

func TestAggregate_SelectBest(t *testing.T) {
	scores := map[string]string{"weak answer": "0.3", "strong answer": "0.9"}
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		for output, score := range scores {
			if strings.Contains(req.Prompt, output) {
				return "Score: " + score, nil
			}
		}
		return "0.0", nil
	})
	e := NewExecutor(nil, o)

	out, err := e.Aggregate(context.Background(), successResults("weak answer", "strong answer"), StrategySelectBest, "question")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if out != "strong answer" {
		t.Errorf("selected %q, want strong answer", out)
	}
}

func TestAggregate_MergeUsesOracle(t *testing.T) {
	var prompt string
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		prompt = req.Prompt
		return "merged document", nil
	})
	e := NewExecutor(nil, o)

	out, err := e.Aggregate(context.Background(), successResults("part one", "part two"), StrategyMerge, "the request")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if out != "merged document" {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(prompt, "part one") || !strings.Contains(prompt, "part two") {
		t.Errorf("merge prompt missing sources:\n%s", prompt)
	}
}

func TestAggregate_SingleResultShortCircuit(t *testing.T) {
	failing := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		t.Fatal("single result must not call the oracle")
		return "", nil
	})
	e := NewExecutor(nil, failing)

	out, err := e.Aggregate(context.Background(), successResults("only one"), StrategyCombine, "request")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if out != "only one" {
		t.Errorf("output = %q", out)
	}
}

func TestAggregate_SkipsFailedResults(t *testing.T) {
	results := []Result{
		{TaskID: "a", Output: "good", Success: true},
		{TaskID: "b", Error: "broke", Success: false},
	}
	e := NewExecutor(nil, noopOracle())

	out, err := e.Aggregate(context.Background(), results, StrategyMerge, "request")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	// Only the successful result remains, so it is returned directly.
	if out != "good" {
		t.Errorf("output = %q", out)
	}
}

func TestAggregate_NoSuccessfulResults(t *testing.T) {
	e := NewExecutor(nil, noopOracle())
	_, err := e.Aggregate(context.Background(), []Result{{TaskID: "a", Error: "x"}}, StrategyMerge, "request")
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("error = %v, want ErrAggregation", err)
	}
}

func TestAggregate_UnknownStrategy(t *testing.T) {
	e := NewExecutor(nil, noopOracle())
	_, err := e.Aggregate(context.Background(), successResults("x", "y"), Strategy("mystery"), "request")
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("error = %v, want ErrAggregation", err)
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Paris.  ", "paris"},
		{"PARIS!", "paris"},
		{"two\n  words", "two words"},
	}
	for _, tt := range tests {
		if got := canonicalize(tt.in); got != tt.want {
			t.Errorf("canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0.85", 0.85, false},
		{"Score: 0.7", 0.7, false},
		{"2.5", 1.0, false},
		{"-1", 0.0, false},
		{"no number here", 0, true},
	}
	for _, tt := range tests {
		got, err := parseScore(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseScore(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseScore(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
