package workflow

import (
	"fmt"

	"github.com/tombee/maestro/pkg/errors"
)

// Plan resolves a workflow's stage dependency graph into a valid execution
// order. The algorithm repeatedly scans the not-yet-placed stages in
// declaration order and places every stage whose dependencies are all placed,
// until a full pass places nothing. Scanning in declaration order makes the
// plan deterministic: simultaneously-eligible stages keep their declared
// relative order.
//
// If any stage remains unplaced, the graph has a cycle or a missing
// dependency and Plan returns a *errors.PlanningError instead of a partial
// plan. Duplicate stage names are rejected up front with a
// *errors.ValidationError naming the duplicate, since placement tracks
// stages by name.
func Plan(cfg Configuration) ([]Stage, error) {
	seen := make(map[string]bool, len(cfg.Stages))
	for _, stage := range cfg.Stages {
		if seen[stage.Name] {
			return nil, &errors.ValidationError{
				Field:      "stages",
				Message:    fmt.Sprintf("duplicate stage name: %s", stage.Name),
				Suggestion: "stage names must be unique within a workflow",
			}
		}
		seen[stage.Name] = true
	}

	placed := make(map[string]bool, len(cfg.Stages))
	ordered := make([]Stage, 0, len(cfg.Stages))

	for len(ordered) < len(cfg.Stages) {
		progressed := false

		for _, stage := range cfg.Stages {
			if placed[stage.Name] {
				continue
			}
			if !depsPlaced(stage, placed) {
				continue
			}
			placed[stage.Name] = true
			ordered = append(ordered, stage)
			progressed = true
		}

		if !progressed {
			var unplaced []string
			for _, stage := range cfg.Stages {
				if !placed[stage.Name] {
					unplaced = append(unplaced, stage.Name)
				}
			}
			return nil, &errors.PlanningError{Workflow: cfg.Name, Unplaced: unplaced}
		}
	}

	return ordered, nil
}

// depsPlaced reports whether every dependency of stage is already placed.
func depsPlaced(stage Stage, placed map[string]bool) bool {
	for _, dep := range stage.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// Validate reports every configuration problem it can find, collected rather
// than fail-fast, so a caller can display all of them at once:
//
//   - no stages at all
//   - duplicate stage names
//   - stages without a name or agent type
//   - dependencies referencing unknown stages
//   - unresolvable cycles (detected by invoking Plan)
func Validate(cfg Configuration) []error {
	var errs []error

	if len(cfg.Stages) == 0 {
		errs = append(errs, &errors.ValidationError{
			Field:   "stages",
			Message: "workflow must have at least one stage",
		})
		return errs
	}

	names := make(map[string]bool, len(cfg.Stages))
	for i, stage := range cfg.Stages {
		if stage.Name == "" {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("stages[%d].name", i),
				Message: "stage name cannot be empty",
			})
			continue
		}
		if names[stage.Name] {
			errs = append(errs, &errors.ValidationError{
				Field:      fmt.Sprintf("stages[%d].name", i),
				Message:    fmt.Sprintf("duplicate stage name: %s", stage.Name),
				Suggestion: "stage names must be unique within a workflow",
			})
		}
		names[stage.Name] = true

		if stage.AgentType == "" {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("stages[%d].agent_type", i),
				Message: fmt.Sprintf("stage %q has no agent type", stage.Name),
			})
		}
	}

	for _, stage := range cfg.Stages {
		for _, dep := range stage.DependsOn {
			if !names[dep] {
				errs = append(errs, &errors.ValidationError{
					Field:      fmt.Sprintf("stages[%s].depends_on", stage.Name),
					Message:    fmt.Sprintf("dependency not found: %s", dep),
					Suggestion: "depends_on entries must name stages declared in this workflow",
				})
			}
		}
	}

	// Only attempt cycle detection on a structurally sound graph: missing
	// dependencies would be double-reported by Plan.
	if len(errs) == 0 {
		if _, err := Plan(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
