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

// Package config loads and validates the YAML configuration that wires
// the runtime together. Values support environment variable expansion
// with ${VAR}, ${VAR:-default}, and $VAR forms.
package config

import (
	"fmt"

	"github.com/agentos-dev/agentos/pkg/adaptive"
	"github.com/agentos-dev/agentos/pkg/capability/discovery"
	"github.com/agentos-dev/agentos/pkg/capability/index"
	"github.com/agentos-dev/agentos/pkg/embedder"
	"github.com/agentos-dev/agentos/pkg/memory"
	"github.com/agentos-dev/agentos/pkg/model"
	"github.com/agentos-dev/agentos/pkg/observability"
	"github.com/agentos-dev/agentos/pkg/orchestrator"
	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/telemetry"
	"github.com/agentos-dev/agentos/pkg/vector"
)

// Config is the full runtime configuration.
type Config struct {
	Model       model.ProviderConfig  `yaml:"model"`
	Embedder    embedder.Config       `yaml:"embedder,omitempty"`
	VectorStore vector.ProviderConfig `yaml:"vector_store,omitempty"`

	Capabilities CapabilitiesConfig        `yaml:"capabilities,omitempty"`
	Discovery    discovery.AssemblerConfig `yaml:"discovery,omitempty"`
	Planner      planner.Config            `yaml:"planner,omitempty"`
	Adaptive     adaptive.Config           `yaml:"adaptive,omitempty"`

	Telemetry      telemetry.Config          `yaml:"telemetry,omitempty"`
	TelemetryStore *telemetry.SQLStoreConfig `yaml:"telemetry_store,omitempty"`

	Memory  memory.Config `yaml:"memory,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`

	Orchestrator  orchestrator.Config  `yaml:"orchestrator,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty"`
}

// CapabilitiesConfig configures capability ingestion.
type CapabilitiesConfig struct {
	// ManifestRoots are directories scanned for CAPABILITY.yaml and
	// SKILL.md entries.
	ManifestRoots []string `yaml:"manifest_roots,omitempty"`

	// Watch enables filesystem watching on the manifest roots.
	Watch bool `yaml:"watch"`

	// WatchDebounceMs coalesces rapid file events (default 500).
	WatchDebounceMs int `yaml:"watch_debounce_ms,omitempty"`

	// Secrets lists the secret names considered configured, for
	// capability availability checks.
	Secrets []string `yaml:"secrets,omitempty"`

	// CoOccurrencePresets seed graph edges between capabilities that
	// are used together.
	CoOccurrencePresets []CoOccurrencePreset `yaml:"co_occurrence_presets,omitempty"`

	Index index.Config `yaml:"index,omitempty"`
}

// CoOccurrencePreset names a set of capabilities used together.
type CoOccurrencePreset struct {
	Name          string   `yaml:"name"`
	CapabilityIDs []string `yaml:"capability_ids"`
}

// SessionConfig bounds conversation history.
type SessionConfig struct {
	// MaxMessages per conversation before trimming (default 200).
	MaxMessages int `yaml:"max_messages,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// ShutdownTimeoutMs bounds graceful shutdown (default 10000).
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms,omitempty"`
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ShutdownTimeoutMs == 0 {
		c.ShutdownTimeoutMs = 10000
	}
}

// SetDefaults applies default values.
func (c *CapabilitiesConfig) SetDefaults() {
	if c.WatchDebounceMs == 0 {
		c.WatchDebounceMs = 500
	}
	c.Index.SetDefaults()
}

// SetDefaults applies default values.
func (c *SessionConfig) SetDefaults() {
	if c.MaxMessages == 0 {
		c.MaxMessages = 200
	}
}

// SetDefaults applies default values across all sections.
func (c *Config) SetDefaults() {
	c.Model.SetDefaults()
	c.Embedder.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Capabilities.SetDefaults()
	c.Discovery.SetDefaults()
	c.Planner.SetDefaults()
	c.Adaptive.SetDefaults()
	c.Telemetry.SetDefaults()
	if c.TelemetryStore != nil {
		c.TelemetryStore.SetDefaults()
	}
	c.Memory.SetDefaults()
	c.Session.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Observability.SetDefaults()
	c.Server.SetDefaults()
}

// Validate checks the configuration. SetDefaults must run first.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.Planner.Validate(); err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.TelemetryStore != nil {
		if err := c.TelemetryStore.Validate(); err != nil {
			return fmt.Errorf("telemetry_store: %w", err)
		}
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}
