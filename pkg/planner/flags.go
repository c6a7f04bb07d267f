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
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/telemetry"
)

// Flags are the recognized per-request custom flags. Keys are matched
// case-insensitively with dashes and spaces treated as underscores; unknown
// keys and unknown enum values are silently ignored.
type Flags struct {
	ToolFailureMode           FailureMode
	ToolSelectionMode         SelectionMode
	EnableCapabilityDiscovery *bool
	CapabilityDiscoveryKind   capability.Kind
	CapabilityCategory        string
	TaskOutcome               telemetry.Status
	TaskOutcomeScore          *float64
}

// rawFlags is the mapstructure decode target; enum parsing happens after.
type rawFlags struct {
	ToolFailureMode           string   `mapstructure:"toolfailuremode"`
	ToolSelectionMode         string   `mapstructure:"toolselectionmode"`
	EnableCapabilityDiscovery *bool    `mapstructure:"enablecapabilitydiscovery"`
	CapabilityDiscoveryKind   string   `mapstructure:"capabilitydiscoverykind"`
	CapabilityCategory        string   `mapstructure:"capabilitycategory"`
	TaskOutcome               string   `mapstructure:"taskoutcome"`
	TaskOutcomeScore          *float64 `mapstructure:"taskoutcomescore"`
}

// ParseFlags extracts the recognized flags from a custom flag map.
func ParseFlags(customFlags map[string]any) (Flags, error) {
	var flags Flags
	if len(customFlags) == 0 {
		return flags, nil
	}

	canonical := make(map[string]any, len(customFlags))
	for key, value := range customFlags {
		canonical[canonicalKey(key)] = value
	}

	var raw rawFlags
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return flags, fmt.Errorf("failed to build flag decoder: %w", err)
	}
	if err := decoder.Decode(canonical); err != nil {
		return flags, fmt.Errorf("failed to decode custom flags: %w", err)
	}

	// Unknown enum values are dropped, not errored.
	switch FailureMode(normalizeValue(raw.ToolFailureMode)) {
	case FailOpen:
		flags.ToolFailureMode = FailOpen
	case FailClosed:
		flags.ToolFailureMode = FailClosed
	}
	switch SelectionMode(normalizeValue(raw.ToolSelectionMode)) {
	case SelectAll:
		flags.ToolSelectionMode = SelectAll
	case SelectDiscovered:
		flags.ToolSelectionMode = SelectDiscovered
	}

	flags.EnableCapabilityDiscovery = raw.EnableCapabilityDiscovery

	if kindValue := normalizeValue(raw.CapabilityDiscoveryKind); kindValue != "" {
		if kindValue == "any" {
			flags.CapabilityDiscoveryKind = "any"
		} else if kind, ok := capability.ParseKind(kindValue); ok {
			flags.CapabilityDiscoveryKind = kind
		}
	}

	flags.CapabilityCategory = strings.TrimSpace(raw.CapabilityCategory)

	if status, ok := telemetry.ParseStatus(normalizeValue(raw.TaskOutcome)); ok {
		flags.TaskOutcome = status
	}
	if raw.TaskOutcomeScore != nil {
		score := telemetry.ClampScore(*raw.TaskOutcomeScore)
		flags.TaskOutcomeScore = &score
	}

	return flags, nil
}

// canonicalKey lowercases and strips dash, space, and underscore so that
// "tool-failure-mode", "Tool Failure Mode", and "toolFailureMode" all match.
func canonicalKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch r {
		case '-', '_', ' ':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeValue lowercases and maps dashes and spaces to underscores so
// that "fail-open" and "Fail Open" parse as "fail_open".
func normalizeValue(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	value = strings.ReplaceAll(value, "-", "_")
	value = strings.ReplaceAll(value, " ", "_")
	return value
}
