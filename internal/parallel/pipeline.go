package parallel

import (
	"context"
	"fmt"
)

// MapReduce runs the tasks as a batched concurrent map phase, then
// reduces the successful results with the given aggregation strategy.
// Returns the reduced output together with the map-phase outcome.
func (e *Executor) MapReduce(ctx context.Context, tasks []Task, opts Options, strategy Strategy, request string) (string, *Outcome, error) {
	outcome := e.ExecuteParallel(ctx, tasks, opts)

	reduced, err := e.Aggregate(ctx, outcome.Results, strategy, request)
	if err != nil {
		return "", outcome, err
	}
	return reduced, outcome, nil
}

// Stage is one ordered step of a pipeline. A stage with multiple tasks
// is itself a parallel sub-run whose results are aggregated before
// feeding the next stage.
type Stage struct {
	// Name labels the stage in results and errors.
	Name string
	// Tasks is the work for this stage.
	Tasks []Task
	// Aggregation combines the stage's results into the output passed to
	// the next stage. Defaults to StrategyCombine.
	Aggregation Strategy
}

// StageResult is the settled outcome of one pipeline stage.
type StageResult struct {
	// Name is the stage label.
	Name string
	// Output is the aggregated stage output.
	Output string
	// Outcome is the stage's parallel run report.
	Outcome *Outcome
}

// PipelineResult is the settled outcome of a pipeline run.
type PipelineResult struct {
	// FinalOutput is the last stage's aggregated output.
	FinalOutput string
	// Stages holds per-stage results in execution order.
	Stages []StageResult
}

// ExecutePipeline runs stages in order, feeding each stage's aggregated
// output into the next stage's task descriptions. A stage whose run
// produces no successful result fails the pipeline.
func (e *Executor) ExecutePipeline(ctx context.Context, stages []Stage, opts Options) (*PipelineResult, error) {
	result := &PipelineResult{}
	input := ""

	for i, stage := range stages {
		tasks := make([]Task, len(stage.Tasks))
		copy(tasks, stage.Tasks)
		if input != "" {
			for j := range tasks {
				tasks[j].Description = fmt.Sprintf("%s\n\nInput from previous stage:\n%s", tasks[j].Description, input)
			}
		}

		outcome := e.ExecuteParallel(ctx, tasks, opts)

		aggregation := stage.Aggregation
		if aggregation == "" {
			aggregation = StrategyCombine
		}
		output, err := e.Aggregate(ctx, outcome.Results, aggregation, stage.Name)
		if err != nil {
			return result, fmt.Errorf("stage %d (%s): %w", i+1, stage.Name, err)
		}

		result.Stages = append(result.Stages, StageResult{
			Name:    stage.Name,
			Output:  output,
			Outcome: outcome,
		})
		input = output
	}

	result.FinalOutput = input
	return result, nil
}
