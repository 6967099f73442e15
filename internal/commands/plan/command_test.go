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

package plan

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlanCommandShowsExecutionOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	content := `
name: ordered
stages:
  - name: review
    agent_type: reviewer
    depends_on: [implement]
  - name: implement
    agent_type: coder
    depends_on: [plan]
  - name: plan
    agent_type: planner
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := NewCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	planPos := strings.Index(got, "1. plan")
	implPos := strings.Index(got, "2. implement")
	reviewPos := strings.Index(got, "3. review")
	if planPos < 0 || implPos < 0 || reviewPos < 0 || !(planPos < implPos && implPos < reviewPos) {
		t.Errorf("output order wrong:\n%s", got)
	}
}

func TestPlanCommandCyclicWorkflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	content := `
name: cyclic
stages:
  - name: a
    agent_type: w
    depends_on: [b]
  - name: b
    agent_type: w
    depends_on: [a]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() succeeded for a cyclic workflow")
	}
}
