package cost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// warnThreshold is the fraction of a daily or monthly limit at which a
// warning alert is raised even though the budget check still passes.
const warnThreshold = 0.8

// runUsage accumulates in-memory spend for a single run, used for the
// per-run cost and token limits.
type runUsage struct {
	cost   float64
	tokens int
}

// Tracker prices executor calls, maintains per-project rolling cost
// aggregates, and gates spend against configured limits.
//
// Updates to one project's summary are serialized through a per-project lock
// so two concurrent runs of the same project never lose a Record.
// Cross-project operations need no coordination.
type Tracker struct {
	rates   *RateTable
	configs ConfigSource
	store   SummaryStore
	alerts  AlertSink
	logger  *slog.Logger

	// now is injectable for rollover tests.
	now func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex // per-project
	runUsage map[string]runUsage    // per-run, keyed by run ID
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithAlertSink sets the sink that receives budget alerts.
func WithAlertSink(sink AlertSink) TrackerOption {
	return func(t *Tracker) { t.alerts = sink }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// WithClock overrides the tracker's time source. Tests use this to cross
// day and month boundaries.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a cost tracker backed by the given rate table and
// project stores.
func NewTracker(rates *RateTable, configs ConfigSource, store SummaryStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		rates:    rates,
		configs:  configs,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		runUsage: make(map[string]runUsage),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// projectLock returns the mutex guarding one project's summary.
func (t *Tracker) projectLock(projectID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.locks[projectID]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[projectID] = l
	return l
}

// Calculate prices a single executor call. Unknown (provider, model)
// combinations fall back to DefaultRate with a logged warning so that a
// misconfigured rate table never produces free-looking usage.
func (t *Tracker) Calculate(provider, model string, inputTokens, outputTokens int) RunCost {
	rate, found := t.rates.Lookup(provider, model)
	if !found {
		t.logger.Warn("no rate configured, using default rate",
			"provider", provider,
			"model", model,
			"input_per_1k", rate.InputPer1K,
			"output_per_1k", rate.OutputPer1K,
		)
	}

	total := float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K

	return RunCost{
		TotalCost:    total,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		ProviderCosts: map[string]ProviderCost{
			provider: {
				Cost:         total,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				Model:        model,
			},
		},
	}
}

// CheckBudget decides whether estimated additional spend fits within the
// project's limits. Limits are evaluated run, then day, then month; the
// first limit exceeded short-circuits with false and an error-level alert.
// If every hard limit passes but the result crosses 80% of the daily or
// monthly limit, a warning alert is raised and the check still returns true.
//
// Errors are reserved for state store failures; a denial is (false, nil).
func (t *Tracker) CheckBudget(ctx context.Context, projectID, runID string, estimated float64) (bool, error) {
	cfg, err := t.configs.CostConfig(ctx, projectID)
	if err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return true, nil
	}

	usage := t.usageForRun(runID)

	if cfg.MaxTokensPerRun != nil && usage.tokens >= *cfg.MaxTokensPerRun {
		t.raise(ctx, cfg, Alert{
			ProjectID:   projectID,
			Level:       AlertError,
			Message:     fmt.Sprintf("run token limit reached: %d tokens used, limit %d", usage.tokens, *cfg.MaxTokensPerRun),
			CurrentCost: float64(usage.tokens),
			Limit:       float64(*cfg.MaxTokensPerRun),
			LimitType:   LimitTypeTokens,
		})
		return false, nil
	}

	if cfg.MaxCostPerRun != nil && usage.cost+estimated > *cfg.MaxCostPerRun {
		t.raise(ctx, cfg, Alert{
			ProjectID:   projectID,
			Level:       AlertError,
			Message:     fmt.Sprintf("run budget exceeded: $%.4f projected, limit $%.2f", usage.cost+estimated, *cfg.MaxCostPerRun),
			CurrentCost: usage.cost,
			Limit:       *cfg.MaxCostPerRun,
			LimitType:   LimitTypeRun,
		})
		return false, nil
	}

	summary, err := t.store.CostSummary(ctx, projectID)
	if err != nil {
		return false, err
	}
	summary = summary.rolledOver(t.now())

	if cfg.MaxCostPerDay != nil && summary.TodayCost+estimated > *cfg.MaxCostPerDay {
		t.raise(ctx, cfg, Alert{
			ProjectID:   projectID,
			Level:       AlertError,
			Message:     fmt.Sprintf("daily budget exceeded: $%.4f projected, limit $%.2f", summary.TodayCost+estimated, *cfg.MaxCostPerDay),
			CurrentCost: summary.TodayCost,
			Limit:       *cfg.MaxCostPerDay,
			LimitType:   LimitTypeDay,
		})
		return false, nil
	}

	if cfg.MaxCostPerMonth != nil && summary.MonthCost+estimated > *cfg.MaxCostPerMonth {
		t.raise(ctx, cfg, Alert{
			ProjectID:   projectID,
			Level:       AlertError,
			Message:     fmt.Sprintf("monthly budget exceeded: $%.4f projected, limit $%.2f", summary.MonthCost+estimated, *cfg.MaxCostPerMonth),
			CurrentCost: summary.MonthCost,
			Limit:       *cfg.MaxCostPerMonth,
			LimitType:   LimitTypeMonth,
		})
		return false, nil
	}

	// Soft warnings: crossing 80% of the daily or monthly limit.
	if cfg.MaxCostPerDay != nil && summary.TodayCost+estimated >= warnThreshold**cfg.MaxCostPerDay {
		t.raise(ctx, cfg, Alert{
			ProjectID:   projectID,
			Level:       AlertWarning,
			Message:     fmt.Sprintf("daily spend at $%.4f, %.0f%% of the $%.2f limit", summary.TodayCost+estimated, (summary.TodayCost+estimated) / *cfg.MaxCostPerDay*100, *cfg.MaxCostPerDay),
			CurrentCost: summary.TodayCost,
			Limit:       *cfg.MaxCostPerDay,
			LimitType:   LimitTypeDay,
		})
	} else if cfg.MaxCostPerMonth != nil && summary.MonthCost+estimated >= warnThreshold**cfg.MaxCostPerMonth {
		t.raise(ctx, cfg, Alert{
			ProjectID:   projectID,
			Level:       AlertWarning,
			Message:     fmt.Sprintf("monthly spend at $%.4f, %.0f%% of the $%.2f limit", summary.MonthCost+estimated, (summary.MonthCost+estimated) / *cfg.MaxCostPerMonth*100, *cfg.MaxCostPerMonth),
			CurrentCost: summary.MonthCost,
			Limit:       *cfg.MaxCostPerMonth,
			LimitType:   LimitTypeMonth,
		})
	}

	return true, nil
}

// Record adds a priced stage execution to the project's rolling aggregates.
// Recording never gates: it succeeds regardless of limits. Total figures are
// unconditional; Today/Month figures are additive within the current
// day/month and reset on rollover. LastUpdated is set to now.
func (t *Tracker) Record(ctx context.Context, projectID, runID string, rc RunCost) error {
	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	now := t.now()

	summary, err := t.store.CostSummary(ctx, projectID)
	if err != nil {
		return err
	}
	summary = summary.rolledOver(now)

	summary.TotalCost += rc.TotalCost
	summary.TotalTokens += rc.TotalTokens()
	summary.TodayCost += rc.TotalCost
	summary.TodayTokens += rc.TotalTokens()
	summary.MonthCost += rc.TotalCost
	summary.MonthTokens += rc.TotalTokens()
	summary.LastUpdated = now

	if err := t.store.SaveCostSummary(ctx, projectID, summary); err != nil {
		return err
	}

	t.mu.Lock()
	usage := t.runUsage[runID]
	usage.cost += rc.TotalCost
	usage.tokens += rc.TotalTokens()
	t.runUsage[runID] = usage
	t.mu.Unlock()

	return nil
}

// Summary returns the project's cost summary with day/month rollover applied
// on read, so a summary requested on a new day reports zero today-cost even
// before any new Record.
func (t *Tracker) Summary(ctx context.Context, projectID string) (Summary, error) {
	summary, err := t.store.CostSummary(ctx, projectID)
	if err != nil {
		return Summary{}, err
	}
	return summary.rolledOver(t.now()), nil
}

// UpdateProviderRates replaces rates for all listed models of a provider.
func (t *Tracker) UpdateProviderRates(provider string, rates map[string]Rate) {
	t.rates.UpdateProviderRates(provider, rates)
}

// RunSpend returns the accumulated in-memory spend for a run.
func (t *Tracker) RunSpend(runID string) (costUSD float64, tokens int) {
	u := t.usageForRun(runID)
	return u.cost, u.tokens
}

// CloseRun drops the in-memory accumulation for a terminal run.
// Run IDs are never reused, so the entry cannot be needed again.
func (t *Tracker) CloseRun(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runUsage, runID)
}

func (t *Tracker) usageForRun(runID string) runUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runUsage[runID]
}

// raise delivers an alert through the sink, honoring the configured minimum
// alert level.
func (t *Tracker) raise(ctx context.Context, cfg Config, alert Alert) {
	if t.alerts == nil {
		return
	}
	minLevel := cfg.AlertLevel
	if minLevel == "" {
		minLevel = AlertInfo
	}
	if alert.Level.severity() < minLevel.severity() {
		return
	}
	t.alerts.RaiseAlert(ctx, alert)
}
