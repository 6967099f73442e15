// Package project holds the project model and the state store contract the
// orchestration engine persists through.
//
// Real deployments back the Store with their own persistence; MemoryStore is
// the reference implementation used by tests and single-process embedding.
package project

import (
	"context"
	"time"

	"github.com/tombee/maestro/pkg/cost"
	"github.com/tombee/maestro/pkg/workflow"
)

// MaxRunHistory bounds the per-project run history. When the cap is reached
// the oldest run is evicted.
const MaxRunHistory = 100

// Project is the configuration owner: it carries the workflow definition and
// the cost configuration the engine and tracker consult.
type Project struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Workflow   workflow.Configuration `json:"workflow"`
	CostConfig cost.Config            `json:"cost_config"`
	CreatedAt  time.Time              `json:"created_at"`
}

// State is the mutable per-project state the engine and cost tracker
// persist: bounded run history, run timing, and the rolling cost summary.
type State struct {
	ProjectID       string         `json:"project_id"`
	Runs            []workflow.Run `json:"runs,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastRunDuration time.Duration  `json:"last_run_duration,omitempty"`
	CostSummary     cost.Summary   `json:"cost_summary"`
}

// AppendRun adds a terminal run to the history, evicting the oldest entry
// once MaxRunHistory is reached, and stamps the run timing fields.
func (s *State) AppendRun(run workflow.Run) {
	s.Runs = append(s.Runs, run)
	if len(s.Runs) > MaxRunHistory {
		s.Runs = s.Runs[len(s.Runs)-MaxRunHistory:]
	}

	started := run.StartedAt
	s.LastRunAt = &started
	if run.CompletedAt != nil {
		s.LastRunDuration = run.CompletedAt.Sub(run.StartedAt)
	}
}

// Run returns the stored run with the given ID, or nil.
func (s *State) Run(runID string) *workflow.Run {
	for i := range s.Runs {
		if s.Runs[i].ID == runID {
			return &s.Runs[i]
		}
	}
	return nil
}

// Store is the external project state store the engine persists through.
//
// Implementations must treat UpdateState for a single project as
// last-writer-wins under their own synchronization; callers serialize
// read-modify-write cycles per project.
type Store interface {
	// GetProject returns a project's configuration.
	GetProject(ctx context.Context, projectID string) (*Project, error)

	// GetState returns the project's mutable state.
	GetState(ctx context.Context, projectID string) (*State, error)

	// UpdateState replaces the project's run history and timing fields.
	// CostSummary has a single write path (the cost tracker's summary
	// store): implementations keep the stored summary rather than taking
	// the caller's copy, so an engine persist racing a cost Record cannot
	// lose the recorded spend.
	UpdateState(ctx context.Context, projectID string, state *State) error
}
