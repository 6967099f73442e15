// Package engine orchestrates workflow runs: it plans a project's stage
// graph, executes stages through the external agent executor, gates and
// records spend through the cost tracker, persists run results into the
// project state store, and emits lifecycle events on every transition.
//
// One engine instance owns its own cancellation registry and event emitter;
// multiple independent instances can coexist in one process (there are no
// package-level registries).
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/maestro/internal/metrics"
	"github.com/tombee/maestro/pkg/agent"
	"github.com/tombee/maestro/pkg/cost"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/project"
	"github.com/tombee/maestro/pkg/workflow"
)

// ErrResumeUnsupported is returned by Resume: pausing discards resumption
// state, so there is nothing to resume. Kept in the public contract so
// callers can distinguish "unsupported" from "unknown run".
var ErrResumeUnsupported = &errors.ValidationError{
	Field:      "run",
	Message:    "resume is not supported: pause cancels without a checkpoint",
	Suggestion: "start a new run instead",
}

// Engine orchestrates workflow runs for projects.
type Engine struct {
	executor agent.Executor
	store    project.Store
	tracker  *cost.Tracker
	emitter  *workflow.EventEmitter
	cond     *workflow.ConditionEvaluator
	logger   *slog.Logger
	tracer   trace.Tracer
	limiter  *rate.Limiter

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	projLock map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracker wires a cost tracker. Without one, runs execute without budget
// gating or cost recording.
func WithTracker(t *cost.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(em *workflow.EventEmitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithTracer enables OpenTelemetry spans per run and per stage.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithExecutorRateLimit paces executor invocations across all runs, to
// protect provider APIs. rps is invocations per second.
func WithExecutorRateLimit(rps float64, burst int) Option {
	return func(e *Engine) { e.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a workflow engine backed by the given executor and state store.
func New(executor agent.Executor, store project.Store, opts ...Option) *Engine {
	e := &Engine{
		executor: executor,
		store:    store,
		emitter:  workflow.NewEventEmitter(false),
		logger:   slog.Default(),
		cancels:  make(map[string]context.CancelFunc),
		projLock: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cond = workflow.NewConditionEvaluator(e.logger)
	return e
}

// Events returns the engine's lifecycle event emitter for subscription.
func (e *Engine) Events() *workflow.EventEmitter {
	return e.emitter
}

// GetExecutionPlan resolves the workflow's dependency graph into the
// deterministic order stages would execute in, without running anything.
func (e *Engine) GetExecutionPlan(cfg workflow.Configuration) ([]workflow.Stage, error) {
	return workflow.Plan(cfg)
}

// ValidateWorkflow reports every configuration problem, collected.
func (e *Engine) ValidateWorkflow(cfg workflow.Configuration) []error {
	return workflow.Validate(cfg)
}

// Cancel cancels a run. Cancellation is cooperative: an in-flight executor
// call observes context cancellation, and the orchestration loop stops
// scheduling further stages at the next stage boundary. Already-completed
// stage results are retained.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()

	if !ok {
		return &errors.NotFoundError{Resource: "run", ID: runID}
	}
	cancel()
	return nil
}

// Pause is cancel-and-discard in the current design: no checkpoint of the
// partially executed plan is saved, so a paused run cannot be resumed.
func (e *Engine) Pause(runID string) error {
	return e.Cancel(runID)
}

// Resume always returns ErrResumeUnsupported; see Pause.
func (e *Engine) Resume(runID string) error {
	return ErrResumeUnsupported
}

// ActiveRuns returns the number of runs with a registered cancellation
// handle, i.e. runs that have not reached a terminal state.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

// register adds a run's cancellation handle to the registry.
func (e *Engine) register(runID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[runID] = cancel
}

// unregister removes a terminal run from the registry. Run IDs are never
// reused, so the entry cannot be needed again.
func (e *Engine) unregister(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, runID)
}

// projectLock returns the mutex serializing state read-modify-write cycles
// for one project. Two concurrent runs of the same project must not lose a
// history update; cross-project persistence needs no coordination.
func (e *Engine) projectLock(projectID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.projLock[projectID]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.projLock[projectID] = l
	return l
}

// CostAlertSink bridges tracker alerts onto the engine's event emitter and
// metrics. Install it on the tracker via cost.WithAlertSink.
func (e *Engine) CostAlertSink() cost.AlertSink {
	return cost.AlertSinkFunc(func(ctx context.Context, alert cost.Alert) {
		metrics.RecordCostAlert(string(alert.Level), alert.LimitType)
		if err := e.emitter.EmitCostAlert(ctx, &workflow.CostAlertRaised{
			ProjectID:   alert.ProjectID,
			Level:       string(alert.Level),
			Message:     alert.Message,
			CurrentCost: alert.CurrentCost,
			Limit:       alert.Limit,
			LimitType:   alert.LimitType,
		}); err != nil {
			e.logger.Warn("cost alert listener failed", "error", err)
		}
	})
}

// now is split out for readability at call sites.
func now() time.Time {
	return time.Now()
}
