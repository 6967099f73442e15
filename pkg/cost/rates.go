package cost

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/maestro/pkg/errors"
)

// Rate is the per-1000-token price of a model in USD.
type Rate struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// DefaultRate is the fallback applied to unknown (provider, model)
// combinations. It is deliberately non-zero: a misconfigured rate table must
// never make usage look free.
var DefaultRate = Rate{InputPer1K: 0.01, OutputPer1K: 0.03}

// RateEntry is one row of a rate table file.
type RateEntry struct {
	Provider string  `yaml:"provider" json:"provider"`
	Model    string  `yaml:"model" json:"model"`
	Rate     Rate    `yaml:",inline" json:"rate"`
}

// RateFile is the on-disk rate table format.
type RateFile struct {
	Version   string      `yaml:"version,omitempty"`
	UpdatedAt time.Time   `yaml:"updated_at,omitempty"`
	Models    []RateEntry `yaml:"models"`
}

// RateTable maps (provider, model) to per-1000-token prices.
// Safe for concurrent use; updates replace rates atomically under the lock.
type RateTable struct {
	mu    sync.RWMutex
	rates map[string]Rate // key: provider:model
}

// NewRateTable creates a rate table seeded with built-in published pricing.
func NewRateTable() *RateTable {
	t := &RateTable{rates: make(map[string]Rate)}
	for key, rate := range builtinRates {
		t.rates[key] = rate
	}
	return t
}

// rateKey builds the lookup key for a provider/model pair.
func rateKey(provider, model string) string {
	return provider + ":" + model
}

// builtinRates carries published per-1k pricing for the common models.
// User-supplied rate files override these entries.
var builtinRates = map[string]Rate{
	"openai:gpt-4":               {InputPer1K: 0.03, OutputPer1K: 0.06},
	"openai:gpt-4-turbo":         {InputPer1K: 0.01, OutputPer1K: 0.03},
	"openai:gpt-4o":              {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"openai:gpt-3.5-turbo":       {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"anthropic:claude-3-opus":    {InputPer1K: 0.015, OutputPer1K: 0.075},
	"anthropic:claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"anthropic:claude-3-haiku":   {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"google:gemini-1.5-pro":      {InputPer1K: 0.00125, OutputPer1K: 0.005},
	"google:gemini-1.5-flash":    {InputPer1K: 0.000075, OutputPer1K: 0.0003},
}

// Lookup returns the rate for a provider/model pair. found is false when the
// pair is unknown and the returned rate is DefaultRate; callers log the
// fallback so misconfigured tables are visible.
func (t *RateTable) Lookup(provider, model string) (rate Rate, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.rates[rateKey(provider, model)]; ok {
		return r, true
	}
	return DefaultRate, false
}

// UpdateProviderRates replaces the rates for all listed models of a provider.
// Models not listed keep their existing rates.
func (t *RateTable) UpdateProviderRates(provider string, rates map[string]Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for model, rate := range rates {
		t.rates[rateKey(provider, model)] = rate
	}
}

// Set sets the rate for a single provider/model pair.
func (t *RateTable) Set(provider, model string, rate Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[rateKey(provider, model)] = rate
}

// Len returns the number of entries in the table.
func (t *RateTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rates)
}

// LoadFile merges a YAML rate file into the table. File entries override
// built-ins and earlier loads for matching provider/model pairs.
func (t *RateTable) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &errors.ConfigError{
			Key:    path,
			Reason: "cannot read rate table",
			Cause:  err,
		}
	}
	return t.Load(data)
}

// Load merges YAML rate data into the table.
func (t *RateTable) Load(data []byte) error {
	var file RateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &errors.ConfigError{
			Key:    "rates",
			Reason: "invalid rate table YAML",
			Cause:  err,
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, entry := range file.Models {
		if entry.Provider == "" || entry.Model == "" {
			return &errors.ConfigError{
				Key:    fmt.Sprintf("rates.models[%d]", i),
				Reason: "provider and model are required",
			}
		}
		t.rates[rateKey(entry.Provider, entry.Model)] = entry.Rate
	}
	return nil
}
