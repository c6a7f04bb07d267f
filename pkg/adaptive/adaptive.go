// Copyright 2025 Kadir Pekel
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

// Package adaptive mutates the turn plan based on rolling outcome KPIs.
// It runs between planning and orchestration and is stateless: Apply is a
// pure function of the plan, the KPI window, and its configuration.
package adaptive

import (
	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/telemetry"
)

// Config controls adaptive execution.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// MinSamples gates adaptation on having seen enough outcomes.
	// At least one sample is always required, even when set to zero.
	MinSamples int `yaml:"min_samples,omitempty"`

	// MinWeightedSuccessRate is the degradation threshold.
	MinWeightedSuccessRate float64 `yaml:"min_weighted_success_rate,omitempty"`

	ForceAllToolsWhenDegraded bool `yaml:"force_all_tools_when_degraded"`
	ForceFailOpenWhenDegraded bool `yaml:"force_fail_open_when_degraded"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MinSamples == 0 {
		c.MinSamples = 5
	}
	if c.MinWeightedSuccessRate == 0 {
		c.MinWeightedSuccessRate = 0.5
	}
}

// Apply inspects the KPI window and adjusts the plan in place, recording
// what changed in the plan's diagnostics. Returns the report.
func Apply(plan *planner.TurnPlan, kpi telemetry.KpiWindow, cfg Config) planner.AdaptiveReport {
	report := planner.AdaptiveReport{}
	defer func() {
		plan.Diagnostics.AdaptiveExecution = &report
	}()

	if !cfg.Enabled {
		return report
	}

	minSamples := cfg.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	if kpi.SampleCount < minSamples {
		return report
	}

	degraded := kpi.WeightedSuccessRate < cfg.MinWeightedSuccessRate
	if !degraded {
		return report
	}

	if cfg.ForceAllToolsWhenDegraded && plan.Policy.ToolSelectionMode == planner.SelectDiscovered {
		plan.Policy.ToolSelectionMode = planner.SelectAll
		report.ForcedToolSelectionMode = true
		report.Applied = true
	}

	if cfg.ForceFailOpenWhenDegraded {
		if plan.ExplicitFailureMode && plan.Policy.ToolFailureMode == planner.FailClosed {
			// An explicit per-request fail_closed wins over adaptation.
			report.PreservedRequestedFailClosed = true
		} else if plan.Policy.ToolFailureMode == planner.FailClosed {
			plan.Policy.ToolFailureMode = planner.FailOpen
			report.ForcedToolFailureMode = true
			report.Applied = true
		}
	}

	return report
}
