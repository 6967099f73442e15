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

package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/pkg/workflow"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate workflow YAML structure and stage graph",
		Long: `Validate checks that a workflow file has valid YAML syntax, that every
stage has a name and agent type, that stage names are unique, and that
every dependency refers to a declared stage with no cycles.

All problems are reported in a single pass.`,
		Example: `  # Validate a workflow file
  maestro validate workflow.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, path string) error {
	cfg, err := workflow.LoadConfiguration(path)
	if err != nil {
		return err
	}

	errs := workflow.Validate(*cfg)
	if len(errs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d stages)\n", path, len(cfg.Stages))
		return nil
	}

	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
	}
	return fmt.Errorf("%s: %d validation error(s)", path, len(errs))
}
