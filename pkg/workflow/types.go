// Package workflow provides the data model and planning primitives for
// multi-stage agent workflows.
//
// A Configuration declares a set of named, interdependent stages. The
// Planner resolves the stage dependency graph into a deterministic execution
// order, or reports every problem it can find through Validate. Runs, stage
// results, the typed run context, and lifecycle events live here too so that
// the engine, the cost tracker, and external callers share one vocabulary.
package workflow

import (
	"time"
)

// ConditionType determines how a stage condition gates execution.
type ConditionType string

const (
	// ConditionIf runs the stage only when the expression is truthy.
	ConditionIf ConditionType = "if"
	// ConditionUnless runs the stage only when the expression is falsy.
	ConditionUnless ConditionType = "unless"
	// ConditionWhen compares a prior stage's status, using expressions of
	// the form stage.<name>.<status> where status is success|failed|skipped.
	ConditionWhen ConditionType = "when"
)

// Condition optionally gates a stage on the accumulated run context.
type Condition struct {
	Type       ConditionType `yaml:"type" json:"type"`
	Expression string        `yaml:"expression" json:"expression"`
}

// Stage is one named unit of work within a workflow, bound to an agent type.
type Stage struct {
	// Name uniquely identifies the stage within its workflow.
	Name string `yaml:"name" json:"name"`

	// AgentType names the agent the executor should run for this stage.
	AgentType string `yaml:"agent_type" json:"agent_type"`

	// Parameters are passed to the agent executor as-is.
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// DependsOn lists the names of stages that must complete first.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Condition optionally gates execution against the run context.
	Condition *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`

	// IsRequired marks the stage as required. Informational only: the
	// engine currently halts a run on any stage failure regardless.
	IsRequired bool `yaml:"required,omitempty" json:"required,omitempty"`
}

// Configuration is the immutable declarative input to a run.
type Configuration struct {
	// Name identifies the workflow.
	Name string `yaml:"name" json:"name"`

	// Stages in declaration order. Declaration order breaks ties between
	// simultaneously-eligible stages during planning.
	Stages []Stage `yaml:"stages" json:"stages"`

	// AllowParallel is carried in the data model but not honored by stage
	// execution: stages run sequentially in plan order.
	AllowParallel bool `yaml:"allow_parallel,omitempty" json:"allow_parallel,omitempty"`

	// Options holds workflow-level options for agents and callers.
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// StageByName returns the stage with the given name, or nil.
func (c *Configuration) StageByName(name string) *Stage {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return &c.Stages[i]
		}
	}
	return nil
}

// RunStatus represents the overall status of a workflow run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every planned stage completed or was skipped.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates planning failed or a stage failed.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was cancelled at a stage boundary.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the status is terminal (no further transitions).
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StageStatus represents the execution status of a single stage.
type StageStatus string

const (
	// StageStatusRunning indicates the stage is currently executing.
	StageStatusRunning StageStatus = "running"
	// StageStatusCompleted indicates the stage completed successfully.
	StageStatusCompleted StageStatus = "completed"
	// StageStatusFailed indicates the stage failed.
	StageStatusFailed StageStatus = "failed"
	// StageStatusSkipped indicates the stage's condition evaluated false.
	StageStatusSkipped StageStatus = "skipped"
)

// StageResult records the outcome of one stage within a run.
// Results are appended in execution order.
type StageResult struct {
	StageName    string         `json:"stage_name"`
	Status       StageStatus    `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Duration     time.Duration  `json:"duration"`
}

// Run is one end-to-end execution of a project's workflow.
// Created in Running state; mutated by the engine as stages complete;
// immutable once Status is terminal.
type Run struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	Workflow     string        `json:"workflow"`
	Status       RunStatus     `json:"status"`
	StageResults []StageResult `json:"stage_results,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// StageResult returns the recorded result for a stage name, or nil.
func (r *Run) StageResult(name string) *StageResult {
	for i := range r.StageResults {
		if r.StageResults[i].StageName == name {
			return &r.StageResults[i]
		}
	}
	return nil
}

// Duration returns how long the run took, or time since start for a live run.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
