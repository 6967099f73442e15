package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/maestro/pkg/workflow"
)

// Tracing is optional: every helper tolerates a nil tracer or span so the
// engine runs identically with tracing disabled.

// startRunSpan starts the span covering a whole run.
func (e *Engine) startRunSpan(ctx context.Context, run *workflow.Run) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, nil
	}
	return e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("project_id", run.ProjectID),
			attribute.String("run_id", run.ID),
			attribute.String("workflow", run.Workflow),
		),
	)
}

// startStageSpan starts the span covering one stage execution.
func (e *Engine) startStageSpan(ctx context.Context, run *workflow.Run, stage *workflow.Stage) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, nil
	}
	return e.tracer.Start(ctx, "workflow.stage",
		trace.WithAttributes(
			attribute.String("run_id", run.ID),
			attribute.String("stage", stage.Name),
			attribute.String("agent_type", stage.AgentType),
		),
	)
}

// endSpan ends a span if one was started.
func endSpan(span trace.Span) {
	if span == nil {
		return
	}
	span.End()
}

// recordSpanError records an error on a span if one was started.
func recordSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
