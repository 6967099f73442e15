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

// Package metrics exposes Prometheus metrics for workflow orchestration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_runs_total",
			Help: "Total workflow runs by terminal status",
		},
		[]string{"status"},
	)

	stagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_stages_total",
			Help: "Total stage executions by status",
		},
		[]string{"status"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"agent_type"},
	)

	costAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_cost_alerts_total",
			Help: "Total cost alerts raised by level and limit type",
		},
		[]string{"level", "limit_type"},
	)

	recordedCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_recorded_cost_usd_total",
			Help: "Total recorded cost in USD by provider",
		},
		[]string{"provider"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_active_runs",
			Help: "Number of workflow runs currently executing",
		},
	)
)

// RecordRunComplete records a terminal run status.
func RecordRunComplete(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// RecordStageComplete records a stage's terminal status and duration.
func RecordStageComplete(agentType, status string, d time.Duration) {
	stagesTotal.WithLabelValues(status).Inc()
	stageDuration.WithLabelValues(agentType).Observe(d.Seconds())
}

// RecordCostAlert records a raised cost alert.
func RecordCostAlert(level, limitType string) {
	costAlertsTotal.WithLabelValues(level, limitType).Inc()
}

// RecordCost records priced spend for a provider.
func RecordCost(provider string, usd float64) {
	recordedCost.WithLabelValues(provider).Add(usd)
}

// RunStarted increments the active-run gauge.
func RunStarted() {
	activeRuns.Inc()
}

// RunFinished decrements the active-run gauge.
func RunFinished() {
	activeRuns.Dec()
}
