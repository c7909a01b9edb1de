package taskmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/coordinator"
	"github.com/taskmesh/taskmesh/internal/journal"
	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/parallel"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/internal/quality"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// Engine is a fully wired execution stack built from configuration:
// oracle client, worker pool, orchestrator, quality controller, agent
// registry, parallel executor, and an optional journal sink.
type Engine struct {
	cfg      *config.Config
	coord    *coordinator.Coordinator
	pool     *pool.WorkerPool
	parallel *parallel.Executor
	journal  *journal.Journal
	oracle   oracle.Oracle
}

// EngineOption overrides pieces of the engine during construction.
type EngineOption func(*engineOverrides)

type engineOverrides struct {
	oracle oracle.Oracle
	sink   coordinator.OutcomeSink
}

// WithOracle substitutes the reasoning backend, bypassing Anthropic
// client construction and its API key requirement.
func WithOracle(o oracle.Oracle) EngineOption {
	return func(ov *engineOverrides) { ov.oracle = o }
}

// WithSink substitutes the outcome sink, bypassing the journal.
func WithSink(s coordinator.OutcomeSink) EngineOption {
	return func(ov *engineOverrides) { ov.sink = s }
}

// NewEngine wires a complete engine from the given configuration. A nil
// config uses the built-in defaults. Unless overridden, the oracle is an
// Anthropic client whose key resolves through the configured sources,
// and the sink is an SQLite journal when journal.path is set.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var ov engineOverrides
	for _, opt := range opts {
		opt(&ov)
	}

	orc := ov.oracle
	if orc == nil {
		clientCfg := oracle.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
		}
		if !cfg.Anthropic.UseBedrock {
			key, err := config.GetAPIKey(cfg)
			if err != nil {
				return nil, fmt.Errorf("engine: %w", err)
			}
			clientCfg.APIKey = key
		}
		client, err := oracle.NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		orc = client
	}

	qc := quality.NewController(orc)
	if cfg.Quality.ConfigFile != "" {
		fileCfg, err := quality.LoadConfig(cfg.Quality.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		qc = quality.NewControllerFromConfig(orc, fileCfg)
	}

	wp, err := pool.New(pool.Config{
		Size:         cfg.Pool.Workers,
		Capabilities: cfg.Pool.Capabilities,
		Timeout:      cfg.Pool.Timeout,
		Runner:       oracleRunner(orc),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	sink := ov.sink
	var jnl *journal.Journal
	if sink == nil && cfg.Journal.Path != "" {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		sink = jnl
	}

	coord, err := coordinator.New(coordinator.Config{
		Oracle:       orc,
		Orchestrator: orchestrator.New(orc, wp),
		Quality:      qc,
		RetryDelay:   cfg.Execution.RetryDelay,
		Sink:         sink,
	})
	if err != nil {
		if jnl != nil {
			jnl.Close()
		}
		return nil, fmt.Errorf("engine: %w", err)
	}

	eng := &Engine{
		cfg:     cfg,
		coord:   coord,
		pool:    wp,
		journal: jnl,
		oracle:  orc,
	}
	eng.parallel = parallel.NewExecutor(registryInvoker{coord.Registry()}, orc)
	return eng, nil
}

// Execute runs one task through the full state machine using the
// configured retry budget.
func (e *Engine) Execute(ctx context.Context, task models.Task) *coordinator.Record {
	return e.coord.ExecuteTask(ctx, task, coordinator.ExecuteOptions{
		MaxRetries: e.cfg.Execution.MaxRetries,
	})
}

// ExecuteBatch runs a flat batch of independent tasks against registered
// agents. A zero concurrency falls back to the configured maximum.
func (e *Engine) ExecuteBatch(ctx context.Context, tasks []parallel.Task, opts parallel.Options) *parallel.Outcome {
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = e.cfg.Execution.MaxConcurrency
	}
	return e.parallel.ExecuteParallel(ctx, tasks, opts)
}

// WatchQuality hot-reloads the quality tuning file into the live
// controller until ctx is cancelled. Returns immediately when watching
// is not configured.
func (e *Engine) WatchQuality(ctx context.Context) error {
	if !e.cfg.Quality.Watch || e.cfg.Quality.ConfigFile == "" {
		return nil
	}
	return quality.WatchConfig(ctx, e.cfg.Quality.ConfigFile, e.coord.Quality().ApplyConfig)
}

// Coordinator returns the engine's coordinator.
func (e *Engine) Coordinator() *coordinator.Coordinator {
	return e.coord
}

// Pool returns the engine's worker pool.
func (e *Engine) Pool() *pool.WorkerPool {
	return e.pool
}

// Registry returns the engine's agent registry.
func (e *Engine) Registry() *coordinator.Registry {
	return e.coord.Registry()
}

// Quality returns the engine's quality controller.
func (e *Engine) Quality() *quality.Controller {
	return e.coord.Quality()
}

// Journal returns the engine-owned journal, nil when none was opened.
func (e *Engine) Journal() *journal.Journal {
	return e.journal
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Oracle returns the reasoning backend the engine was built over.
func (e *Engine) Oracle() oracle.Oracle {
	return e.oracle
}

// Metrics returns a snapshot of the cumulative execution metrics.
func (e *Engine) Metrics() models.ExecutionMetrics {
	return e.coord.Metrics()
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	if e.journal != nil {
		return e.journal.Close()
	}
	return nil
}

// oracleRunner executes pool subtasks as direct oracle completions.
func oracleRunner(o oracle.Oracle) pool.Runner {
	return func(ctx context.Context, w models.Worker, task models.Task) (pool.RunResult, error) {
		out, err := o.Complete(ctx, oracle.Request{
			Prompt:    task.Description,
			MaxTokens: task.MaxTokens,
		})
		if err != nil {
			return pool.RunResult{}, err
		}
		return pool.RunResult{Output: out}, nil
	}
}

// registryInvoker dispatches parallel batch tasks to registered agents
// and folds each outcome into the registry's rolling stats.
type registryInvoker struct {
	registry *coordinator.Registry
}

func (r registryInvoker) Invoke(ctx context.Context, agentID, content string) (string, error) {
	agent, ok := r.registry.Get(agentID)
	if !ok {
		return "", fmt.Errorf("unknown agent %s", agentID)
	}
	started := time.Now()
	out, err := agent.Invoke(ctx, content)
	r.registry.RecordInvocation(agentID, time.Since(started), err == nil)
	return out, err
}
