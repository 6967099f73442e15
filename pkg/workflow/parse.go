package workflow

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/maestro/pkg/errors"
)

// ParseConfiguration parses a workflow configuration from YAML.
// Structural validation is a separate step: call Validate on the result to
// collect every configuration problem.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errors.ConfigError{
			Key:    "workflow",
			Reason: "invalid YAML",
			Cause:  err,
		}
	}
	if cfg.Name == "" {
		return nil, &errors.ValidationError{
			Field:   "name",
			Message: "workflow name cannot be empty",
		}
	}
	return &cfg, nil
}

// LoadConfiguration reads and parses a workflow configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    path,
			Reason: "cannot read workflow file",
			Cause:  err,
		}
	}
	return ParseConfiguration(data)
}
