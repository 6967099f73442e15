package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tombee/maestro/internal/log"
	"github.com/tombee/maestro/internal/metrics"
	"github.com/tombee/maestro/pkg/agent"
	"github.com/tombee/maestro/pkg/workflow"
)

// ExecuteStage runs a single stage in isolation against the executor, with a
// fresh run context seeded from initial. Useful for testing one stage of a
// workflow without running its predecessors. Cost is priced and recorded the
// same way a full run would.
func (e *Engine) ExecuteStage(ctx context.Context, projectID string, stage workflow.Stage, initial map[string]any) (*workflow.StageResult, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	run := &workflow.Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    workflow.RunStatusRunning,
		StartedAt: now(),
	}
	if e.tracker != nil {
		defer e.tracker.CloseRun(run.ID)
	}

	rc := workflow.NewRunContext(initial)
	result := e.executeStage(ctx, run, &stage, rc)
	e.emitStageState(ctx, run, result)
	return result, nil
}

// executeStage runs one stage: condition gate, executor invocation, context
// merge, and advisory cost recording. It never returns an error; failures
// are recorded on the result and the caller decides what they mean for the
// run.
func (e *Engine) executeStage(ctx context.Context, run *workflow.Run, stage *workflow.Stage, rc *workflow.RunContext) *workflow.StageResult {
	result := &workflow.StageResult{
		StageName: stage.Name,
		Status:    workflow.StageStatusRunning,
		StartedAt: now(),
	}

	logger := log.WithStageContext(e.logger, run.ID, stage.Name)

	stageCtx, span := e.startStageSpan(ctx, run, stage)
	defer endSpan(span)

	e.emitStageState(ctx, run, result)

	// Condition gate: a false condition records Skipped without ever
	// invoking the executor.
	if !e.cond.ShouldRun(stage.Condition, rc, run) {
		logger.Debug("stage skipped by condition",
			"condition_type", string(stage.Condition.Type),
			"expression", stage.Condition.Expression,
		)
		return e.completeStage(result, workflow.StageStatusSkipped, "", stage)
	}

	// Pace executor invocations if a limiter is configured. A cancelled
	// wait is indistinguishable from any other mid-stage cancellation.
	if e.limiter != nil {
		if err := e.limiter.Wait(stageCtx); err != nil {
			result.ErrorMessage = err.Error()
			recordSpanError(span, err)
			return e.completeStage(result, workflow.StageStatusFailed, result.ErrorMessage, stage)
		}
	}

	out, err := e.executor.Execute(stageCtx, stage.AgentType, stage.Parameters, rc.Snapshot())
	if err != nil {
		recordSpanError(span, err)
		return e.completeStage(result, workflow.StageStatusFailed, err.Error(), stage)
	}

	if out != nil && out.Output != nil {
		result.Output = out.Output
		if collisions := rc.MergeStageOutput(stage.Name, out.Output); len(collisions) > 0 {
			logger.Warn("stage output collided with existing context keys",
				"keys", collisions,
			)
		}
	}

	// Cost recording is advisory: a tracker error never undoes a stage
	// that already executed. Gating happens before the run and at stage
	// boundaries, never mid-stage.
	if e.tracker != nil && out != nil && out.Usage.TotalTokens() > 0 {
		e.recordStageCost(ctx, run, out.Usage, logger)
	}

	return e.completeStage(result, workflow.StageStatusCompleted, "", stage)
}

// recordStageCost prices reported token usage and records it for the run.
func (e *Engine) recordStageCost(ctx context.Context, run *workflow.Run, usage agent.TokenUsage, logger *slog.Logger) {
	provider := usage.Provider
	if provider == "" {
		provider = "unknown"
	}

	rc := e.tracker.Calculate(provider, usage.Model, usage.InputTokens, usage.OutputTokens)
	if err := e.tracker.Record(ctx, run.ProjectID, run.ID, rc); err != nil {
		logger.Warn("cost recording failed, stage result kept",
			log.ProviderKey, provider,
			log.Error(err),
		)
		return
	}
	metrics.RecordCost(provider, rc.TotalCost)

	logger.Debug("stage cost recorded",
		log.ProviderKey, provider,
		"cost_usd", rc.TotalCost,
		"tokens", rc.TotalTokens(),
	)
}

// completeStage stamps timing and terminal status on a result and records
// stage metrics.
func (e *Engine) completeStage(result *workflow.StageResult, status workflow.StageStatus, errMsg string, stage *workflow.Stage) *workflow.StageResult {
	result.Status = status
	result.ErrorMessage = errMsg
	result.CompletedAt = now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	metrics.RecordStageComplete(stage.AgentType, string(status), result.Duration)
	return result
}
