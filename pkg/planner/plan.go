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

// Package planner resolves the execution policy for one turn — failure
// mode, tool scope — and produces the discovery payload injected into the
// prompt. The planner never invokes the LLM or tools itself.
package planner

import (
	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/capability/discovery"
)

// FailureMode governs how tool errors are handled during a turn.
type FailureMode string

const (
	// FailOpen feeds tool errors back to the LLM for recovery.
	FailOpen FailureMode = "fail_open"

	// FailClosed terminates the turn on the first tool error.
	FailClosed FailureMode = "fail_closed"
)

// SelectionMode governs which tools the LLM sees.
type SelectionMode string

const (
	// SelectAll exposes the entire tool catalog.
	SelectAll SelectionMode = "all"

	// SelectDiscovered exposes only discovery-selected tools.
	SelectDiscovered SelectionMode = "discovered"
)

// Policy is the resolved execution policy for one turn.
type Policy struct {
	PlannerVersion    string
	ToolFailureMode   FailureMode
	ToolSelectionMode SelectionMode
}

// CapabilityPlan is the discovery portion of the turn plan.
type CapabilityPlan struct {
	Enabled       bool
	Query         string
	Kind          capability.Kind
	Category      string
	OnlyAvailable bool

	// SelectedToolNames is deduplicated and insertion-ordered.
	SelectedToolNames []string

	// PromptContext is the tiered discovery text for the system prompt.
	PromptContext string

	// Discovery is the raw discovery result, when discovery ran.
	Discovery *discovery.Result

	FallbackApplied bool
	FallbackReason  string
}

// AdaptiveReport records what the adaptive controller changed.
type AdaptiveReport struct {
	Applied                      bool
	ForcedToolSelectionMode      bool
	ForcedToolFailureMode        bool
	PreservedRequestedFailClosed bool
}

// Diagnostics carries planning timings and attempt counts.
type Diagnostics struct {
	PlanningLatencyMs  int64
	DiscoveryAttempted bool
	DiscoveryApplied   bool
	DiscoveryAttempts  int
	UsedFallback       bool

	// AdaptiveExecution is filled by the adaptive controller after
	// planning, before orchestration.
	AdaptiveExecution *AdaptiveReport
}

// TurnPlan is the planner's output for one turn. It lives only for that
// turn.
type TurnPlan struct {
	Policy      Policy
	Capability  CapabilityPlan
	Diagnostics Diagnostics

	// ExplicitFailureMode is true when the failure mode came from a
	// per-request flag rather than config defaults. The adaptive
	// controller preserves explicitly requested fail_closed.
	ExplicitFailureMode bool
}
