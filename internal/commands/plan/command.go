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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/pkg/workflow"
)

// NewCommand creates the plan command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <workflow>",
		Short: "Show the execution order for a workflow",
		Long: `Plan resolves stage dependencies and prints the order in which stages
would run. Stages with no unmet dependencies run in declaration order.`,
		Example: `  # Show the execution plan
  maestro plan workflow.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0])
		},
	}

	return cmd
}

func runPlan(cmd *cobra.Command, path string) error {
	cfg, err := workflow.LoadConfiguration(path)
	if err != nil {
		return err
	}

	plan, err := workflow.Plan(*cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Execution plan for %q (%d stages):\n", cfg.Name, len(plan))
	for i, stage := range plan {
		deps := ""
		if len(stage.DependsOn) > 0 {
			deps = fmt.Sprintf("  (after: %s)", strings.Join(stage.DependsOn, ", "))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s [%s]%s\n", i+1, stage.Name, stage.AgentType, deps)
	}
	return nil
}
