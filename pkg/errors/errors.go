// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the typed error taxonomy used across maestro.
//
// Errors fall into a small number of categories with distinct handling:
// validation problems are collected and reported together, planning problems
// are fatal to a run before any stage executes, stage execution problems halt
// a run, and state store problems always propagate because they mean progress
// may not be durably recorded.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a workflow configuration problem.
// Use this for invalid stage definitions, duplicate names, or bad references.
type ValidationError struct {
	// Field identifies which part of the configuration failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "project", "run", "stage")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// PlanningError represents an unresolvable stage dependency graph.
// A run that fails planning executes zero stages.
type PlanningError struct {
	// Workflow is the name of the workflow that failed to plan
	Workflow string

	// Unplaced lists the stage names that could not be placed in any order,
	// either because they participate in a cycle or depend on a missing stage.
	Unplaced []string
}

// Error implements the error interface.
func (e *PlanningError) Error() string {
	return fmt.Sprintf("workflow %q has a cyclic or missing dependency involving stages: %s",
		e.Workflow, strings.Join(e.Unplaced, ", "))
}

// StageExecutionError represents an agent executor failure for one stage.
// It halts the remaining stages and marks the run failed.
type StageExecutionError struct {
	// Stage is the name of the stage that failed
	Stage string

	// AgentType is the agent the stage was bound to
	AgentType string

	// Cause is the underlying executor error
	Cause error
}

// Error implements the error interface.
func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %q (agent %s) failed: %v", e.Stage, e.AgentType, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StageExecutionError) Unwrap() error {
	return e.Cause
}

// StateStoreError represents a project state store failure.
// These are never swallowed: they indicate run results or cost accounting
// may be lost.
type StateStoreError struct {
	// Op is the store operation that failed (e.g., "GetState", "UpdateState")
	Op string

	// ProjectID is the project whose state was being accessed
	ProjectID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StateStoreError) Error() string {
	return fmt.Sprintf("state store %s failed for project %s: %v", e.Op, e.ProjectID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StateStoreError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems such as an unreadable or
// malformed rate table file.
type ConfigError struct {
	// Key is the configuration key or file that has the problem
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "agent execution")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join aggregates multiple errors into one, dropping nils.
// Used by validation paths that collect every problem instead of failing fast.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
