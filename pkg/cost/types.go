// Package cost prices agent executor calls against a per-model rate table,
// keeps rolling per-project cost aggregates, and gates runs against
// configured spending limits with threshold alerting.
//
// The tracker is accounting-first: Record never gates, CheckBudget never
// records. Budget denial is a boolean plus an alert, not an error; errors
// are reserved for state store failures, which always propagate because they
// mean accounting may be lost.
package cost

import (
	"context"
	"time"
)

// AlertLevel classifies cost alerts.
type AlertLevel string

const (
	// AlertInfo is informational.
	AlertInfo AlertLevel = "info"
	// AlertWarning signals spend crossing the warning threshold of a limit.
	AlertWarning AlertLevel = "warning"
	// AlertError signals a hard limit denial.
	AlertError AlertLevel = "error"
)

// severity orders alert levels for threshold filtering.
func (l AlertLevel) severity() int {
	switch l {
	case AlertError:
		return 2
	case AlertWarning:
		return 1
	default:
		return 0
	}
}

// Limit types carried on alerts.
const (
	LimitTypeRun    = "run"
	LimitTypeDay    = "day"
	LimitTypeMonth  = "month"
	LimitTypeTokens = "tokens"
)

// Config is the per-project cost configuration.
// Any nil limit is unlimited.
type Config struct {
	// Enabled turns cost tracking and budget gating on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxCostPerRun caps the spend of a single run in USD.
	MaxCostPerRun *float64 `yaml:"max_cost_per_run,omitempty" json:"max_cost_per_run,omitempty"`

	// MaxCostPerDay caps the project's spend per calendar day in USD.
	MaxCostPerDay *float64 `yaml:"max_cost_per_day,omitempty" json:"max_cost_per_day,omitempty"`

	// MaxCostPerMonth caps the project's spend per calendar month in USD.
	MaxCostPerMonth *float64 `yaml:"max_cost_per_month,omitempty" json:"max_cost_per_month,omitempty"`

	// MaxTokensPerRun caps total token consumption of a single run.
	MaxTokensPerRun *int `yaml:"max_tokens_per_run,omitempty" json:"max_tokens_per_run,omitempty"`

	// AlertLevel is the minimum level of alerts to raise. Alerts below the
	// threshold are suppressed.
	AlertLevel AlertLevel `yaml:"alert_level,omitempty" json:"alert_level,omitempty"`
}

// Summary holds rolling cost aggregates for a project.
//
// Today/Month figures are only valid relative to LastUpdated: a summary read
// on a different calendar day (respectively month) is stale and the stale
// figures reset to zero before use. Total figures are lifetime and
// monotonically non-decreasing.
type Summary struct {
	TotalCost   float64   `json:"total_cost"`
	TotalTokens int       `json:"total_tokens"`
	TodayCost   float64   `json:"today_cost"`
	TodayTokens int       `json:"today_tokens"`
	MonthCost   float64   `json:"month_cost"`
	MonthTokens int       `json:"month_tokens"`
	LastUpdated time.Time `json:"last_updated"`
}

// rolledOver returns the summary with stale day/month figures reset to zero
// relative to now. LastUpdated is left untouched; callers that persist set it.
func (s Summary) rolledOver(now time.Time) Summary {
	if s.LastUpdated.IsZero() {
		return s
	}
	ly, lm, ld := s.LastUpdated.Date()
	ny, nm, nd := now.Date()

	if ly != ny || lm != nm || ld != nd {
		s.TodayCost = 0
		s.TodayTokens = 0
	}
	if ly != ny || lm != nm {
		s.MonthCost = 0
		s.MonthTokens = 0
	}
	return s
}

// ProviderCost breaks a RunCost down per provider.
type ProviderCost struct {
	Cost         float64 `json:"cost"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Model        string  `json:"model,omitempty"`
}

// RunCost is the priced record of one stage execution.
type RunCost struct {
	TotalCost     float64                 `json:"total_cost"`
	InputTokens   int                     `json:"input_tokens"`
	OutputTokens  int                     `json:"output_tokens"`
	ProviderCosts map[string]ProviderCost `json:"provider_costs,omitempty"`
}

// TotalTokens returns the sum of input and output tokens.
func (rc RunCost) TotalTokens() int {
	return rc.InputTokens + rc.OutputTokens
}

// Alert is a budget warning or denial raised by the tracker.
type Alert struct {
	ProjectID   string
	Level       AlertLevel
	Message     string
	CurrentCost float64
	Limit       float64
	LimitType   string
}

// AlertSink receives alerts raised by the tracker. The engine bridges alerts
// onto the workflow event emitter; tests use a recording sink.
type AlertSink interface {
	RaiseAlert(ctx context.Context, alert Alert)
}

// AlertSinkFunc adapts a function to the AlertSink interface.
type AlertSinkFunc func(ctx context.Context, alert Alert)

// RaiseAlert implements AlertSink.
func (f AlertSinkFunc) RaiseAlert(ctx context.Context, alert Alert) {
	f(ctx, alert)
}

// ConfigSource resolves a project's cost configuration.
// Implemented by the project store.
type ConfigSource interface {
	CostConfig(ctx context.Context, projectID string) (Config, error)
}

// SummaryStore persists per-project cost summaries.
// Implemented by the project store.
type SummaryStore interface {
	CostSummary(ctx context.Context, projectID string) (Summary, error)
	SaveCostSummary(ctx context.Context, projectID string, s Summary) error
}
