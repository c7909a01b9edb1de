package parallel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/taskmesh/taskmesh/internal/oracle"
)

// oracleRequest builds a plain prompt request.
func oracleRequest(prompt string) oracle.Request {
	return oracle.Request{Prompt: prompt}
}

// Strategy identifies a result-aggregation policy.
type Strategy string

const (
	// StrategyMerge weaves all results into one document with per-source
	// attribution.
	StrategyMerge Strategy = "merge"
	// StrategySelectBest scores each result against the request
	// independently and keeps the highest scorer.
	StrategySelectBest Strategy = "select_best"
	// StrategyCombine synthesizes one narrative from all results.
	StrategyCombine Strategy = "combine"
	// StrategyVote returns the most frequent canonical form, breaking
	// ties by first appearance. No oracle call is made.
	StrategyVote Strategy = "vote"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyMerge, StrategySelectBest, StrategyCombine, StrategyVote:
		return true
	default:
		return false
	}
}

// mergePrompt weaves results together while keeping source attribution.
const mergePrompt = `Multiple agents produced results for this request:

Request: %s

%s
Merge all results into one coherent document. Preserve attribution:
mention which source contributed each part.`

// combinePrompt synthesizes one narrative without attribution.
const combinePrompt = `Multiple agents produced results for this request:

Request: %s

%s
Combine the results into a single synthesized narrative answering the request.`

// scorePrompt rates one result against the request.
const scorePrompt = `Rate how well this result answers the request on a scale from 0.0 to 1.0.

Request: %s

Result:
%s

Respond with ONLY the numeric score.`

// Aggregate combines settled results using the given strategy. Only
// successful results participate; an empty successful set is an error.
func (e *Executor) Aggregate(ctx context.Context, results []Result, strategy Strategy, request string) (string, error) {
	successful := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Success {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return "", fmt.Errorf("%w: no successful results to aggregate", ErrAggregation)
	}
	if len(successful) == 1 {
		return successful[0].Output, nil
	}

	switch strategy {
	case StrategyMerge:
		return e.oracleAggregate(ctx, mergePrompt, successful, request)
	case StrategyCombine:
		return e.oracleAggregate(ctx, combinePrompt, successful, request)
	case StrategySelectBest:
		return e.selectBest(ctx, successful, request)
	case StrategyVote:
		return vote(successful), nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrAggregation, strategy)
	}
}

// oracleAggregate runs a merge- or combine-style prompt over all results.
func (e *Executor) oracleAggregate(ctx context.Context, promptTemplate string, results []Result, request string) (string, error) {
	var sources strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sources, "--- Source %s (task %s) ---\n%s\n\n", r.Agent, r.TaskID, r.Output)
	}

	out, err := e.oracle.Complete(ctx, oracleRequest(fmt.Sprintf(promptTemplate, request, sources.String())))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAggregation, err)
	}
	return strings.TrimSpace(out), nil
}

// selectBest scores each result independently against the request and
// keeps the maximum. Ties keep the earlier result.
func (e *Executor) selectBest(ctx context.Context, results []Result, request string) (string, error) {
	best := -1.0
	bestOutput := ""

	for _, r := range results {
		raw, err := e.oracle.Complete(ctx, oracleRequest(fmt.Sprintf(scorePrompt, request, r.Output)))
		if err != nil {
			return "", fmt.Errorf("%w: score %s: %v", ErrAggregation, r.TaskID, err)
		}
		score, err := parseScore(raw)
		if err != nil {
			return "", fmt.Errorf("%w: score %s: %v", ErrAggregation, r.TaskID, err)
		}
		if score > best {
			best = score
			bestOutput = r.Output
		}
	}
	return bestOutput, nil
}

// vote canonicalizes each output and returns the original text of the
// first result whose canonical form is the most frequent.
func vote(results []Result) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]string)
	order := make([]string, 0, len(results))

	for _, r := range results {
		c := canonicalize(r.Output)
		if _, ok := firstSeen[c]; !ok {
			firstSeen[c] = r.Output
			order = append(order, c)
		}
		counts[c]++
	}

	winner := ""
	winnerCount := 0
	for _, c := range order {
		if counts[c] > winnerCount {
			winner = c
			winnerCount = counts[c]
		}
	}
	return firstSeen[winner]
}

// canonicalize normalizes a result for voting: lowercased, whitespace
// collapsed, trailing punctuation trimmed.
func canonicalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!")
	return strings.Join(strings.Fields(s), " ")
}

// parseScore extracts a [0,1] float from an oracle scoring response.
func parseScore(raw string) (float64, error) {
	for _, field := range strings.Fields(strings.TrimSpace(raw)) {
		field = strings.Trim(field, ",:;")
		if v, err := strconv.ParseFloat(field, 64); err == nil {
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("no numeric score in %q", raw)
}
