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

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/telemetry"
)

func TestParseFlags(t *testing.T) {
	t.Run("recognizes camelCase keys", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"toolFailureMode":   "fail_closed",
			"toolSelectionMode": "all",
		})
		require.NoError(t, err)
		assert.Equal(t, FailClosed, flags.ToolFailureMode)
		assert.Equal(t, SelectAll, flags.ToolSelectionMode)
	})

	t.Run("keys are case and separator insensitive", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"Tool-Failure-Mode":   "fail_closed",
			"tool selection mode": "discovered",
		})
		require.NoError(t, err)
		assert.Equal(t, FailClosed, flags.ToolFailureMode)
		assert.Equal(t, SelectDiscovered, flags.ToolSelectionMode)
	})

	t.Run("values normalize dashes and spaces", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"toolFailureMode": "Fail-Open",
			"taskOutcome":     "Success",
		})
		require.NoError(t, err)
		assert.Equal(t, FailOpen, flags.ToolFailureMode)
		assert.Equal(t, telemetry.StatusSuccess, flags.TaskOutcome)
	})

	t.Run("unknown values are silently dropped", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"toolFailureMode":         "explode",
			"toolSelectionMode":       "some",
			"capabilityDiscoveryKind": "starship",
			"taskOutcome":             "maybe",
		})
		require.NoError(t, err)
		assert.Empty(t, flags.ToolFailureMode)
		assert.Empty(t, flags.ToolSelectionMode)
		assert.Empty(t, flags.CapabilityDiscoveryKind)
		assert.Empty(t, flags.TaskOutcome)
	})

	t.Run("unknown keys are ignored", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"someVendorFlag": "value",
		})
		require.NoError(t, err)
		assert.Equal(t, Flags{}, flags)
	})

	t.Run("discovery kind accepts any", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"capabilityDiscoveryKind": "any",
		})
		require.NoError(t, err)
		assert.Equal(t, capability.Kind("any"), flags.CapabilityDiscoveryKind)

		flags, err = ParseFlags(map[string]any{
			"capabilityDiscoveryKind": "skill",
		})
		require.NoError(t, err)
		assert.Equal(t, capability.KindSkill, flags.CapabilityDiscoveryKind)
	})

	t.Run("booleans decode weakly", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"enableCapabilityDiscovery": "true",
		})
		require.NoError(t, err)
		require.NotNil(t, flags.EnableCapabilityDiscovery)
		assert.True(t, *flags.EnableCapabilityDiscovery)

		flags, err = ParseFlags(map[string]any{
			"enableCapabilityDiscovery": false,
		})
		require.NoError(t, err)
		require.NotNil(t, flags.EnableCapabilityDiscovery)
		assert.False(t, *flags.EnableCapabilityDiscovery)
	})

	t.Run("score override is clamped", func(t *testing.T) {
		flags, err := ParseFlags(map[string]any{
			"taskOutcomeScore": 1.7,
		})
		require.NoError(t, err)
		require.NotNil(t, flags.TaskOutcomeScore)
		assert.Equal(t, 1.0, *flags.TaskOutcomeScore)
	})

	t.Run("empty map yields zero flags", func(t *testing.T) {
		flags, err := ParseFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, Flags{}, flags)
	})
}
