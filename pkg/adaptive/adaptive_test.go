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

package adaptive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/telemetry"
)

func degradedKPI(samples int) telemetry.KpiWindow {
	return telemetry.KpiWindow{
		SampleCount:         samples,
		FailedCount:         samples,
		WeightedSuccessRate: 0.0,
	}
}

func healthyKPI(samples int) telemetry.KpiWindow {
	return telemetry.KpiWindow{
		SampleCount:         samples,
		SuccessCount:        samples,
		SuccessRate:         1.0,
		WeightedSuccessRate: 1.0,
	}
}

func discoveredPlan() *planner.TurnPlan {
	return &planner.TurnPlan{
		Policy: planner.Policy{
			ToolFailureMode:   planner.FailOpen,
			ToolSelectionMode: planner.SelectDiscovered,
		},
		Capability: planner.CapabilityPlan{
			SelectedToolNames: []string{"web-search"},
		},
	}
}

func TestApplyForcesAllTools(t *testing.T) {
	cfg := Config{
		Enabled:                   true,
		MinSamples:                3,
		MinWeightedSuccessRate:    0.8,
		ForceAllToolsWhenDegraded: true,
	}

	plan := discoveredPlan()
	report := Apply(plan, degradedKPI(3), cfg)

	assert.True(t, report.Applied)
	assert.True(t, report.ForcedToolSelectionMode)
	assert.Equal(t, planner.SelectAll, plan.Policy.ToolSelectionMode)
	require.NotNil(t, plan.Diagnostics.AdaptiveExecution)
	assert.True(t, plan.Diagnostics.AdaptiveExecution.Applied)
}

func TestApplyForcesFailOpen(t *testing.T) {
	cfg := Config{
		Enabled:                   true,
		MinSamples:                3,
		MinWeightedSuccessRate:    0.8,
		ForceFailOpenWhenDegraded: true,
	}

	t.Run("config-default fail_closed is relaxed", func(t *testing.T) {
		plan := discoveredPlan()
		plan.Policy.ToolFailureMode = planner.FailClosed

		report := Apply(plan, degradedKPI(3), cfg)
		assert.True(t, report.ForcedToolFailureMode)
		assert.False(t, report.PreservedRequestedFailClosed)
		assert.Equal(t, planner.FailOpen, plan.Policy.ToolFailureMode)
	})

	t.Run("explicitly requested fail_closed is preserved", func(t *testing.T) {
		plan := discoveredPlan()
		plan.Policy.ToolFailureMode = planner.FailClosed
		plan.ExplicitFailureMode = true

		report := Apply(plan, degradedKPI(3), cfg)
		assert.True(t, report.PreservedRequestedFailClosed)
		assert.False(t, report.ForcedToolFailureMode)
		assert.Equal(t, planner.FailClosed, plan.Policy.ToolFailureMode)
	})

	t.Run("fail_open stays untouched", func(t *testing.T) {
		plan := discoveredPlan()
		report := Apply(plan, degradedKPI(3), cfg)
		assert.False(t, report.ForcedToolFailureMode)
		assert.Equal(t, planner.FailOpen, plan.Policy.ToolFailureMode)
	})
}

func TestApplyGuards(t *testing.T) {
	cfg := Config{
		Enabled:                   true,
		MinSamples:                3,
		MinWeightedSuccessRate:    0.8,
		ForceAllToolsWhenDegraded: true,
	}

	t.Run("disabled controller never acts", func(t *testing.T) {
		disabled := cfg
		disabled.Enabled = false

		plan := discoveredPlan()
		report := Apply(plan, degradedKPI(10), disabled)
		assert.False(t, report.Applied)
		assert.Equal(t, planner.SelectDiscovered, plan.Policy.ToolSelectionMode)
	})

	t.Run("below min samples", func(t *testing.T) {
		plan := discoveredPlan()
		report := Apply(plan, degradedKPI(2), cfg)
		assert.False(t, report.Applied)
	})

	t.Run("min samples zero still requires one sample", func(t *testing.T) {
		zero := cfg
		zero.MinSamples = 0

		plan := discoveredPlan()
		report := Apply(plan, degradedKPI(0), zero)
		assert.False(t, report.Applied)

		report = Apply(plan, degradedKPI(1), zero)
		assert.True(t, report.Applied)
	})

	t.Run("healthy window never degrades", func(t *testing.T) {
		plan := discoveredPlan()
		report := Apply(plan, healthyKPI(10), cfg)
		assert.False(t, report.Applied)
		assert.Equal(t, planner.SelectDiscovered, plan.Policy.ToolSelectionMode)
	})

	t.Run("diagnostics always recorded", func(t *testing.T) {
		plan := discoveredPlan()
		Apply(plan, healthyKPI(10), cfg)
		require.NotNil(t, plan.Diagnostics.AdaptiveExecution)
		assert.False(t, plan.Diagnostics.AdaptiveExecution.Applied)
	})

	t.Run("all selection mode untouched", func(t *testing.T) {
		plan := discoveredPlan()
		plan.Policy.ToolSelectionMode = planner.SelectAll
		report := Apply(plan, degradedKPI(5), cfg)
		assert.False(t, report.ForcedToolSelectionMode)
	})
}
