package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tombee/maestro/internal/log"
	"github.com/tombee/maestro/internal/metrics"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/workflow"
)

// ExecuteWorkflow runs a project's workflow to a terminal state and returns
// the run. Planning and stage failures are recorded on the run and surfaced
// through lifecycle events rather than returned as errors: the returned run
// is always terminal and inspectable. The error return is reserved for state
// store failures, which mean the run result may not be durably recorded.
func (e *Engine) ExecuteWorkflow(ctx context.Context, projectID string, cfg workflow.Configuration) (*workflow.Run, error) {
	return e.execute(ctx, uuid.NewString(), projectID, cfg)
}

// execute is the run loop, with the run ID chosen by the caller so async
// submission can hand the ID out before execution starts.
func (e *Engine) execute(ctx context.Context, runID, projectID string, cfg workflow.Configuration) (*workflow.Run, error) {
	run := &workflow.Run{
		ID:        runID,
		ProjectID: projectID,
		Workflow:  cfg.Name,
		Status:    workflow.RunStatusRunning,
		StartedAt: now(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.register(run.ID, cancel)
	defer e.unregister(run.ID)
	if e.tracker != nil {
		defer e.tracker.CloseRun(run.ID)
	}

	metrics.RunStarted()
	defer metrics.RunFinished()

	runCtx, span := e.startRunSpan(runCtx, run)
	defer endSpan(span)

	logger := log.WithRunContext(e.logger, projectID, run.ID)
	logger.Info("workflow run started", log.WorkflowKey, cfg.Name, "stages", len(cfg.Stages))

	e.emitRunState(ctx, run, "run started")

	// Plan before anything executes. A planning failure is fatal to the run
	// and zero stages execute.
	plan, err := workflow.Plan(cfg)
	if err != nil {
		logger.Error("workflow planning failed", log.Error(err))
		recordSpanError(span, err)
		return e.finishRun(ctx, run, workflow.RunStatusFailed, err.Error())
	}

	// Pre-flight budget gate. Denial fails the run before any stage spends.
	if e.tracker != nil {
		ok, err := e.tracker.CheckBudget(ctx, projectID, run.ID, 0)
		if err != nil {
			logger.Error("budget check failed", log.Error(err))
			recordSpanError(span, err)
			terminal, persistErr := e.finishRun(ctx, run, workflow.RunStatusFailed, fmt.Sprintf("budget check failed: %v", err))
			if persistErr != nil {
				return terminal, persistErr
			}
			return terminal, err
		}
		if !ok {
			logger.Warn("run denied by budget gate")
			return e.finishRun(ctx, run, workflow.RunStatusFailed, "budget limit exceeded before run start")
		}
	}

	rc := workflow.NewRunContext(cfg.Options)

	for i, stage := range plan {
		// Cancellation is checked at every stage boundary: a cancelled run
		// stops scheduling but keeps the results recorded so far.
		if runCtx.Err() != nil {
			logger.Info("run cancelled", "completed_stages", len(run.StageResults))
			return e.finishRun(ctx, run, workflow.RunStatusCancelled, "cancelled")
		}

		// Accumulated run spend is re-gated at every boundary after the
		// first: per-run cost and token caps can only trip once stages
		// have recorded usage. The pre-flight check covered stage one.
		if e.tracker != nil && i > 0 {
			ok, err := e.tracker.CheckBudget(ctx, projectID, run.ID, 0)
			if err != nil {
				logger.Error("budget check failed", log.Error(err))
				recordSpanError(span, err)
				terminal, persistErr := e.finishRun(ctx, run, workflow.RunStatusFailed, fmt.Sprintf("budget check failed: %v", err))
				if persistErr != nil {
					return terminal, persistErr
				}
				return terminal, err
			}
			if !ok {
				logger.Warn("run halted by budget gate", "completed_stages", len(run.StageResults))
				return e.finishRun(ctx, run, workflow.RunStatusFailed,
					fmt.Sprintf("budget limit exceeded after %d stages", len(run.StageResults)))
			}
		}

		result := e.executeStage(runCtx, run, &stage, rc)
		run.StageResults = append(run.StageResults, *result)
		e.emitStageState(ctx, run, result)

		if result.Status == workflow.StageStatusFailed {
			if runCtx.Err() != nil {
				// The stage aborted because the run was cancelled mid-flight,
				// not because the agent itself failed.
				logger.Info("run cancelled during stage", log.StageKey, stage.Name)
				return e.finishRun(ctx, run, workflow.RunStatusCancelled, "cancelled")
			}
			logger.Error("stage failed, halting run",
				log.StageKey, stage.Name,
				"error", result.ErrorMessage,
			)
			recordSpanError(span, &errors.StageExecutionError{
				Stage:     stage.Name,
				AgentType: stage.AgentType,
				Cause:     fmt.Errorf("%s", result.ErrorMessage),
			})
			return e.finishRun(ctx, run, workflow.RunStatusFailed,
				fmt.Sprintf("stage %q failed: %s", stage.Name, result.ErrorMessage))
		}
	}

	if runCtx.Err() != nil {
		return e.finishRun(ctx, run, workflow.RunStatusCancelled, "cancelled")
	}

	logger.Info("workflow run completed", "stages", len(run.StageResults))
	return e.finishRun(ctx, run, workflow.RunStatusCompleted, "")
}

// ExecuteWorkflowAsync starts a run on its own goroutine and returns the run
// ID immediately. The returned channel delivers the terminal run (buffered;
// never blocks the engine). The ctx passed here bounds the whole run:
// deriving it with a deadline is how callers bound run duration.
func (e *Engine) ExecuteWorkflowAsync(ctx context.Context, projectID string, cfg workflow.Configuration) (string, <-chan *workflow.Run, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return "", nil, err
	}

	done := make(chan *workflow.Run, 1)
	runID := uuid.NewString()

	go func() {
		run, err := e.execute(ctx, runID, projectID, cfg)
		if err != nil {
			e.logger.Error("async run persistence failed",
				log.ProjectIDKey, projectID,
				log.RunIDKey, runID,
				log.Error(err),
			)
		}
		done <- run
	}()

	return runID, done, nil
}

// finishRun moves the run to a terminal state, persists it into the
// project's bounded history, and emits the final lifecycle event.
//
// Persistence failures are returned (StateStoreError semantics) but the
// returned run is still terminal and inspectable.
func (e *Engine) finishRun(ctx context.Context, run *workflow.Run, status workflow.RunStatus, message string) (*workflow.Run, error) {
	completed := now()
	run.CompletedAt = &completed
	run.Status = status
	run.ErrorMessage = message

	metrics.RecordRunComplete(string(status))
	e.emitRunState(ctx, run, message)

	if err := e.persistRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// persistRun appends the terminal run to the project's state under the
// per-project lock, evicting history beyond the cap and stamping
// LastRunAt/LastRunDuration.
func (e *Engine) persistRun(ctx context.Context, run *workflow.Run) error {
	lock := e.projectLock(run.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.store.GetState(ctx, run.ProjectID)
	if err != nil {
		return &errors.StateStoreError{Op: "GetState", ProjectID: run.ProjectID, Cause: err}
	}

	state.AppendRun(*run)

	if err := e.store.UpdateState(ctx, run.ProjectID, state); err != nil {
		return &errors.StateStoreError{Op: "UpdateState", ProjectID: run.ProjectID, Cause: err}
	}
	return nil
}

// emitRunState emits a workflow-level lifecycle event.
func (e *Engine) emitRunState(ctx context.Context, run *workflow.Run, message string) {
	if err := e.emitter.EmitWorkflowStateChanged(ctx, run.ProjectID, run.ID, run.Status, message); err != nil {
		e.logger.Warn("workflow event listener failed", log.RunIDKey, run.ID, log.Error(err))
	}
}

// emitStageState emits a stage-level lifecycle event.
func (e *Engine) emitStageState(ctx context.Context, run *workflow.Run, result *workflow.StageResult) {
	if err := e.emitter.EmitStageStateChanged(ctx, run.ProjectID, run.ID, result); err != nil {
		e.logger.Warn("stage event listener failed",
			log.RunIDKey, run.ID,
			log.StageKey, result.StageName,
			log.Error(err),
		)
	}
}
