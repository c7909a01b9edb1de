// Package taskmesh is the importable surface of the execution engine:
// complexity-routed task execution over a worker pool, quality-gated
// retries, flat parallel batches, and an SQLite execution journal.
//
// Most consumers build an Engine from configuration and call Execute.
// The underlying pieces are re-exported here for callers that assemble
// their own stack.
package taskmesh

import (
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

// Domain types.
type (
	// Task is one unit of work submitted to the engine.
	Task = models.Task
	// Evaluation is a scored quality assessment of a produced result.
	Evaluation = models.Evaluation
	// QualityThresholds are the acceptance bands results are gated against.
	QualityThresholds = models.QualityThresholds
	// ComplexityAnalysis is the scored complexity assessment of a task.
	ComplexityAnalysis = models.ComplexityAnalysis
	// ExecutionMetrics are the engine's cumulative execution counters.
	ExecutionMetrics = models.ExecutionMetrics
	// Strategy is an execution strategy identifier.
	Strategy = models.Strategy
	// Worker is one execution slot in the pool.
	Worker = models.Worker
	// ExecutionPlan is a validated subtask decomposition.
	ExecutionPlan = models.ExecutionPlan
	// SubtaskResult is the settled outcome of one subtask.
	SubtaskResult = models.SubtaskResult
	// AggregatedResult is the synthesized outcome of a decomposed run.
	AggregatedResult = models.AggregatedResult
)

// Coordinator types.
type (
	// Coordinator runs the analyze-execute-evaluate-retry state machine.
	Coordinator = coordinator.Coordinator
	// CoordinatorConfig configures a Coordinator.
	CoordinatorConfig = coordinator.Config
	// ExecuteOptions controls one ExecuteTask call.
	ExecuteOptions = coordinator.ExecuteOptions
	// Record is the final result record for one task execution.
	Record = coordinator.Record
	// OutcomeSink receives every final record.
	OutcomeSink = coordinator.OutcomeSink
	// Agent is a polymorphic executor dispatched by capability matching.
	Agent = coordinator.Agent
	// AgentRegistry holds registered agents and their rolling stats.
	AgentRegistry = coordinator.Registry
	// AgentStats carries the rolling performance record for one agent.
	AgentStats = coordinator.AgentStats
)

// Pool and orchestration types.
type (
	// WorkerPool owns a bounded set of workers and their in-flight tasks.
	WorkerPool = pool.WorkerPool
	// PoolConfig configures a WorkerPool.
	PoolConfig = pool.Config
	// Runner executes one task on behalf of a worker.
	Runner = pool.Runner
	// RunResult is the payload produced by a worker run.
	RunResult = pool.RunResult
	// Assignment is returned when a task is accepted by a worker.
	Assignment = pool.Assignment
	// Orchestrator drives decomposed plans across the worker pool.
	Orchestrator = orchestrator.Orchestrator
	// OrchestratorOption configures an Orchestrator.
	OrchestratorOption = orchestrator.Option
	// CoordinateOptions controls how a plan is driven through the pool.
	CoordinateOptions = orchestrator.CoordinateOptions
	// SelectionPolicy picks a worker from the eligible set.
	SelectionPolicy = orchestrator.SelectionPolicy
)

// Parallel batch types.
type (
	// ParallelExecutor runs flat batches of independent tasks.
	ParallelExecutor = parallel.Executor
	// ParallelTask is one independent unit of a flat batch.
	ParallelTask = parallel.Task
	// ParallelOptions controls one batch run.
	ParallelOptions = parallel.Options
	// ParallelOutcome is the full report of one batch run.
	ParallelOutcome = parallel.Outcome
	// FailureStrategy controls how task failures affect a batch.
	FailureStrategy = parallel.FailureStrategy
	// Invoker dispatches task content to a named agent.
	Invoker = parallel.Invoker
	// InvokerFunc adapts a plain function to the Invoker interface.
	InvokerFunc = parallel.InvokerFunc
)

// Batch failure strategies.
const (
	// FailFast aborts the run on the first task error.
	FailFast = parallel.FailFast
	// ContinueOnFailure records failures and proceeds.
	ContinueOnFailure = parallel.Continue
	// RetryFailed retries failing tasks before recording them as failed.
	RetryFailed = parallel.RetryFailed
)

// Quality and oracle types.
type (
	// QualityController evaluates results against adaptive thresholds.
	QualityController = quality.Controller
	// QualityOption configures a QualityController.
	QualityOption = quality.ControllerOption
	// QualityFileConfig is the on-disk tuning for the quality controller.
	QualityFileConfig = quality.FileConfig
	// Oracle is the opaque reasoning capability the engine calls.
	Oracle = oracle.Oracle
	// OracleFunc adapts a plain function to the Oracle interface.
	OracleFunc = oracle.Func
	// OracleRequest describes one reasoning call.
	OracleRequest = oracle.Request
	// OracleClient is the Anthropic-backed Oracle implementation.
	OracleClient = oracle.Client
	// OracleClientConfig configures an OracleClient.
	OracleClientConfig = oracle.ClientConfig
	// TokenTracker accumulates token usage across oracle calls.
	TokenTracker = oracle.TokenTracker
)

// Configuration and persistence types.
type (
	// Config is the engine configuration, loaded from XDG paths, project
	// overrides, and environment variables.
	Config = config.Config
	// Journal is the SQLite-backed execution record store.
	Journal = journal.Journal
	// JournalEntry is one persisted execution record.
	JournalEntry = journal.Entry
	// JournalSummary aggregates the persisted outcomes.
	JournalSummary = journal.Summary
)

// Sentinel errors surfaced by the engine.
var (
	// ErrNoAPIKey indicates no Anthropic API key is configured.
	ErrNoAPIKey = config.ErrNoAPIKey
	// ErrComplexityAnalysis indicates the complexity oracle call failed.
	ErrComplexityAnalysis = coordinator.ErrComplexityAnalysis
	// ErrDuplicateAgent indicates an agent ID is already registered.
	ErrDuplicateAgent = coordinator.ErrDuplicateAgent
	// ErrQualityEvaluation indicates the evaluation oracle call failed.
	ErrQualityEvaluation = quality.ErrQualityEvaluation
	// ErrWorkerUnavailable indicates the requested worker is unknown or busy.
	ErrWorkerUnavailable = pool.ErrWorkerUnavailable
	// ErrTaskTimeout indicates a task exceeded the pool's worker timeout.
	ErrTaskTimeout = pool.ErrTaskTimeout
	// ErrTaskNotFound indicates no active task exists with the given ID.
	ErrTaskNotFound = pool.ErrTaskNotFound
	// ErrCycleDetected indicates a decomposition plan contains a dependency cycle.
	ErrCycleDetected = orchestrator.ErrCycleDetected
	// ErrDependencyNotSatisfied indicates a subtask ran before its dependencies.
	ErrDependencyNotSatisfied = orchestrator.ErrDependencyNotSatisfied
)

// NewCoordinator creates a Coordinator from the given configuration.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	return coordinator.New(cfg)
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *AgentRegistry {
	return coordinator.NewRegistry()
}

// NewWorkerPool creates a WorkerPool from the given configuration.
func NewWorkerPool(cfg PoolConfig) (*WorkerPool, error) {
	return pool.New(cfg)
}

// NewOrchestrator creates an Orchestrator over the given oracle and pool.
func NewOrchestrator(o Oracle, wp *WorkerPool, opts ...OrchestratorOption) *Orchestrator {
	return orchestrator.New(o, wp, opts...)
}

// NewRoundRobin creates the rotating worker selection policy.
func NewRoundRobin() SelectionPolicy {
	return orchestrator.NewRoundRobin()
}

// NewLeastLoaded creates the load-based worker selection policy.
func NewLeastLoaded() SelectionPolicy {
	return orchestrator.NewLeastLoaded()
}

// WithSelectionPolicy overrides an orchestrator's worker selection.
func WithSelectionPolicy(p SelectionPolicy) OrchestratorOption {
	return orchestrator.WithSelectionPolicy(p)
}

// NewParallelExecutor creates an Executor dispatching through the given
// invoker and aggregating through the given oracle.
func NewParallelExecutor(inv Invoker, o Oracle) *ParallelExecutor {
	return parallel.NewExecutor(inv, o)
}

// NewQualityController creates a quality controller backed by the oracle.
func NewQualityController(o Oracle, opts ...QualityOption) *QualityController {
	return quality.NewController(o, opts...)
}

// NewOracleClient creates an Anthropic-backed oracle client.
func NewOracleClient(cfg OracleClientConfig) (*OracleClient, error) {
	return oracle.NewClient(cfg)
}

// LoadConfig loads configuration from XDG paths, project overrides, and
// environment variables.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// LoadConfigFromPath loads configuration from a specific file.
func LoadConfigFromPath(path string) (*Config, error) {
	return config.LoadFromPath(path)
}

// DefaultConfig returns a Config with built-in defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// SaveConfig writes the configuration to the user config file.
func SaveConfig(cfg *Config) error {
	return config.Save(cfg)
}

// GetAPIKey resolves the Anthropic API key from the environment or the
// configuration, in that order.
func GetAPIKey(cfg *Config) (string, error) {
	return config.GetAPIKey(cfg)
}

// ValidateAPIKey performs basic format validation on an API key.
func ValidateAPIKey(key string) error {
	return config.ValidateAPIKey(key)
}

// MaskAPIKey returns a masked version of the API key for display.
func MaskAPIKey(key string) string {
	return config.MaskAPIKey(key)
}

// LoadQualityConfig reads and validates a quality tuning file.
func LoadQualityConfig(path string) (QualityFileConfig, error) {
	return quality.LoadConfig(path)
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	return journal.Open(path)
}

// DefaultJournalPath returns the XDG data path for the journal database.
func DefaultJournalPath() string {
	return journal.DefaultPath()
}
