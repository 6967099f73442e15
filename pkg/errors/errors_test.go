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

package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation with field",
			err:  &ValidationError{Field: "stages[0].name", Message: "cannot be empty"},
			want: "validation failed on stages[0].name: cannot be empty",
		},
		{
			name: "validation without field",
			err:  &ValidationError{Message: "bad config"},
			want: "validation failed: bad config",
		},
		{
			name: "not found",
			err:  &NotFoundError{Resource: "project", ID: "p1"},
			want: "project not found: p1",
		},
		{
			name: "planning",
			err:  &PlanningError{Workflow: "wf", Unplaced: []string{"a", "b"}},
			want: `workflow "wf" has a cyclic or missing dependency involving stages: a, b`,
		},
		{
			name: "config with key",
			err:  &ConfigError{Key: "rates.yaml", Reason: "cannot read"},
			want: "config error at rates.yaml: cannot read",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrapChains(t *testing.T) {
	cause := fmt.Errorf("disk full")

	tests := []struct {
		name string
		err  error
	}{
		{"stage execution", &StageExecutionError{Stage: "s", AgentType: "a", Cause: cause}},
		{"state store", &StateStoreError{Op: "UpdateState", ProjectID: "p1", Cause: cause}},
		{"config", &ConfigError{Key: "k", Reason: "r", Cause: cause}},
		{"timeout", &TimeoutError{Operation: "op", Cause: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, cause) {
				t.Errorf("Is() did not find wrapped cause in %T", tt.err)
			}
		})
	}
}

func TestAs(t *testing.T) {
	var err error = &StateStoreError{
		Op:        "GetState",
		ProjectID: "p1",
		Cause:     fmt.Errorf("timeout"),
	}
	wrapped := Wrap(err, "persisting run")

	var storeErr *StateStoreError
	if !As(wrapped, &storeErr) {
		t.Fatal("As() did not find StateStoreError through Wrap")
	}
	if storeErr.ProjectID != "p1" {
		t.Errorf("ProjectID = %q", storeErr.ProjectID)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(fmt.Errorf("base"), "stage %q", "build")
	if !strings.Contains(err.Error(), `stage "build": base`) {
		t.Errorf("Wrapf() = %q", err.Error())
	}
}

func TestJoin(t *testing.T) {
	e1 := &ValidationError{Field: "a", Message: "bad"}
	e2 := &ValidationError{Field: "b", Message: "worse"}

	joined := Join(e1, nil, e2)
	if joined == nil {
		t.Fatal("Join() = nil")
	}
	if !Is(joined, e1) || !Is(joined, e2) {
		t.Error("Join() lost member errors")
	}
	if Join(nil, nil) != nil {
		t.Error("Join(nil, nil) != nil")
	}
}
