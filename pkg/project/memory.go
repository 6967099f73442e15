package project

import (
	"context"
	"sync"
	"time"

	"github.com/tombee/maestro/pkg/cost"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/workflow"
)

// MemoryStore is an in-memory implementation of Store.
// It is thread-safe and suitable for testing or single-process embedding.
// It also implements cost.ConfigSource and cost.SummaryStore so the cost
// tracker can run against it directly.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	states   map[string]*State
}

// NewMemoryStore creates an empty in-memory project store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
		states:   make(map[string]*State),
	}
}

// AddProject registers a project. State is initialized empty.
func (s *MemoryStore) AddProject(p *Project) error {
	if p == nil || p.ID == "" {
		return &errors.ValidationError{
			Field:   "project.id",
			Message: "project ID cannot be empty",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return &errors.ValidationError{
			Field:      "project.id",
			Message:    "project already exists: " + p.ID,
			Suggestion: "project IDs must be unique",
		}
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.projects[p.ID] = p
	s.states[p.ID] = &State{ProjectID: p.ID}
	return nil
}

// GetProject returns a project's configuration.
func (s *MemoryStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "project", ID: projectID}
	}
	copied := *p
	return &copied, nil
}

// GetState returns a deep-enough copy of the project's mutable state: the
// run slice is copied so callers can append without racing the store.
func (s *MemoryStore) GetState(ctx context.Context, projectID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[projectID]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "project state", ID: projectID}
	}

	copied := *state
	copied.Runs = append([]workflow.Run(nil), state.Runs...)
	return &copied, nil
}

// UpdateState replaces the project's mutable state.
func (s *MemoryStore) UpdateState(ctx context.Context, projectID string, state *State) error {
	if state == nil {
		return &errors.ValidationError{
			Field:   "state",
			Message: "state cannot be nil",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[projectID]
	if !ok {
		return &errors.NotFoundError{Resource: "project state", ID: projectID}
	}

	copied := *state
	copied.ProjectID = projectID
	copied.Runs = append([]workflow.Run(nil), state.Runs...)
	// The cost summary is written only through SaveCostSummary. Taking the
	// caller's copy here would let a state round-trip clobber cost recorded
	// since the caller's GetState.
	copied.CostSummary = current.CostSummary
	s.states[projectID] = &copied
	return nil
}

// CostConfig implements cost.ConfigSource.
func (s *MemoryStore) CostConfig(ctx context.Context, projectID string) (cost.Config, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return cost.Config{}, err
	}
	return p.CostConfig, nil
}

// CostSummary implements cost.SummaryStore.
func (s *MemoryStore) CostSummary(ctx context.Context, projectID string) (cost.Summary, error) {
	state, err := s.GetState(ctx, projectID)
	if err != nil {
		return cost.Summary{}, err
	}
	return state.CostSummary, nil
}

// SaveCostSummary implements cost.SummaryStore.
func (s *MemoryStore) SaveCostSummary(ctx context.Context, projectID string, summary cost.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[projectID]
	if !ok {
		return &errors.NotFoundError{Resource: "project state", ID: projectID}
	}
	state.CostSummary = summary
	return nil
}
