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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentos-dev/agentos/pkg/capability/discovery"
)

// fallbackNoMatches is recorded when discovery selected no tools under
// discovered mode and the planner widened the scope.
const fallbackNoMatches = "Discovery produced no tool matches; falling back to full toolset."

// ErrDiscoveryFailed wraps persistent discovery failures under fail_closed
// policy. The orchestrator maps it to a terminal error chunk.
var ErrDiscoveryFailed = errors.New("capability discovery failed")

// Config is the global planner configuration.
type Config struct {
	PlannerVersion string `yaml:"planner_version,omitempty"`

	DefaultToolFailureMode   FailureMode   `yaml:"default_tool_failure_mode,omitempty"`
	DefaultToolSelectionMode SelectionMode `yaml:"default_tool_selection_mode,omitempty"`

	// EnableDiscovery turns capability discovery on by default.
	EnableDiscovery bool `yaml:"enable_discovery"`

	// AllowRequestOverrides honors per-request custom flags.
	AllowRequestOverrides bool `yaml:"allow_request_overrides"`

	// OnlyAvailable restricts discovery to capabilities whose secrets and
	// tools are present.
	OnlyAvailable bool `yaml:"only_available"`

	// UseGraphReranking applies 1-hop graph boosting during discovery.
	UseGraphReranking bool `yaml:"use_graph_reranking"`

	// MaxRetries is the number of retries after the first discovery
	// attempt (total attempts = 1 + MaxRetries).
	MaxRetries     int `yaml:"max_retries,omitempty"`
	RetryBackoffMs int `yaml:"retry_backoff_ms,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.PlannerVersion == "" {
		c.PlannerVersion = "v1"
	}
	if c.DefaultToolFailureMode == "" {
		c.DefaultToolFailureMode = FailOpen
	}
	if c.DefaultToolSelectionMode == "" {
		c.DefaultToolSelectionMode = SelectDiscovered
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoffMs == 0 {
		c.RetryBackoffMs = 200
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.DefaultToolFailureMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("unsupported tool failure mode: %s", c.DefaultToolFailureMode)
	}
	switch c.DefaultToolSelectionMode {
	case SelectAll, SelectDiscovered:
	default:
		return fmt.Errorf("unsupported tool selection mode: %s", c.DefaultToolSelectionMode)
	}
	return nil
}

// Input is everything the planner needs for one turn.
type Input struct {
	// Query is the user message driving discovery.
	Query string

	// CustomFlags are the per-request overrides, already shaped as a map.
	CustomFlags map[string]any
}

// Planner resolves per-turn policy and discovery scope.
type Planner struct {
	cfg    Config
	engine *discovery.Engine
}

// New creates a planner. engine may be nil when discovery is disabled.
func New(cfg Config, engine *discovery.Engine) (*Planner, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg, engine: engine}, nil
}

// Config returns the planner configuration in effect.
func (p *Planner) Config() Config {
	return p.cfg
}

// Plan resolves the turn plan. It returns ErrDiscoveryFailed (wrapped) only
// when discovery persistently fails under fail_closed policy.
func (p *Planner) Plan(ctx context.Context, input Input) (*TurnPlan, error) {
	start := time.Now()

	plan := &TurnPlan{
		Policy: Policy{
			PlannerVersion:    p.cfg.PlannerVersion,
			ToolFailureMode:   p.cfg.DefaultToolFailureMode,
			ToolSelectionMode: p.cfg.DefaultToolSelectionMode,
		},
		Capability: CapabilityPlan{
			Enabled:       p.cfg.EnableDiscovery,
			Query:         input.Query,
			OnlyAvailable: p.cfg.OnlyAvailable,
		},
	}

	if p.cfg.AllowRequestOverrides {
		p.applyOverrides(plan, input.CustomFlags)
	}

	if plan.Capability.Enabled && p.engine != nil && p.engine.Initialized() {
		if err := p.runDiscovery(ctx, plan); err != nil {
			plan.Diagnostics.PlanningLatencyMs = time.Since(start).Milliseconds()
			return plan, err
		}
	}

	plan.Diagnostics.PlanningLatencyMs = time.Since(start).Milliseconds()
	return plan, nil
}

func (p *Planner) applyOverrides(plan *TurnPlan, customFlags map[string]any) {
	flags, err := ParseFlags(customFlags)
	if err != nil {
		slog.Warn("Ignoring malformed custom flags", "error", err)
		return
	}

	if flags.ToolFailureMode != "" {
		plan.Policy.ToolFailureMode = flags.ToolFailureMode
		plan.ExplicitFailureMode = true
	}
	if flags.ToolSelectionMode != "" {
		plan.Policy.ToolSelectionMode = flags.ToolSelectionMode
	}
	if flags.EnableCapabilityDiscovery != nil {
		plan.Capability.Enabled = *flags.EnableCapabilityDiscovery
	}
	if flags.CapabilityDiscoveryKind != "" {
		plan.Capability.Kind = flags.CapabilityDiscoveryKind
	}
	if flags.CapabilityCategory != "" {
		plan.Capability.Category = flags.CapabilityCategory
	}
}

// runDiscovery calls the engine with retries. The backoff sleep holds no
// locks; a canceled context cuts the retry loop short.
func (p *Planner) runDiscovery(ctx context.Context, plan *TurnPlan) error {
	plan.Diagnostics.DiscoveryAttempted = true

	opts := discovery.Options{
		Kind:              plan.Capability.Kind,
		Category:          plan.Capability.Category,
		OnlyAvailable:     plan.Capability.OnlyAvailable,
		UseGraphReranking: p.cfg.UseGraphReranking,
	}

	var result *discovery.Result
	var lastErr error

	attempts := 1 + p.cfg.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		plan.Diagnostics.DiscoveryAttempts++

		result, lastErr = p.engine.Discover(ctx, plan.Capability.Query, opts)
		if lastErr == nil {
			break
		}

		slog.Warn("Capability discovery attempt failed",
			"attempt", attempt+1,
			"error", lastErr)

		if attempt < attempts-1 {
			canceled := false
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				canceled = true
			case <-time.After(time.Duration(p.cfg.RetryBackoffMs) * time.Millisecond):
			}
			if canceled {
				break
			}
		}
	}

	if lastErr != nil {
		if plan.Policy.ToolFailureMode == FailClosed {
			return fmt.Errorf("%w: %v", ErrDiscoveryFailed, lastErr)
		}
		// fail_open: widen scope and continue without discovery context.
		plan.Policy.ToolSelectionMode = SelectAll
		plan.Capability.FallbackApplied = true
		plan.Capability.FallbackReason = fmt.Sprintf("Discovery failed after %d attempts: %v", plan.Diagnostics.DiscoveryAttempts, lastErr)
		plan.Diagnostics.UsedFallback = true
		return nil
	}

	plan.Capability.Discovery = result
	plan.Capability.PromptContext = result.PromptContext()
	plan.Capability.SelectedToolNames = result.ToolNames()
	plan.Diagnostics.DiscoveryApplied = true

	if plan.Policy.ToolSelectionMode == SelectDiscovered && len(plan.Capability.SelectedToolNames) == 0 {
		plan.Policy.ToolSelectionMode = SelectAll
		plan.Capability.FallbackApplied = true
		plan.Capability.FallbackReason = fallbackNoMatches
		plan.Diagnostics.UsedFallback = true
	}

	return nil
}
