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

// Package observability exposes turn orchestration metrics through an
// OpenTelemetry meter with a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures metrics collection.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// ServiceName labels the meter. Defaults to "agentos".
	ServiceName string `yaml:"service_name,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "agentos"
	}
}

// Manager owns the meter provider and the scrape handler.
type Manager struct {
	cfg      Config
	provider *sdkmetric.MeterProvider
	recorder Recorder
}

// NewManager creates an uninitialized manager. Before Initialize, Recorder
// returns a no-op recorder.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{cfg: cfg, recorder: NoopRecorder{}}
}

// Initialize wires the Prometheus exporter and builds the instruments.
// Disabled configuration leaves the no-op recorder in place.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(m.cfg.ServiceName))
	m.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res))

	recorder, err := newMeterRecorder(m.provider.Meter(m.cfg.ServiceName))
	if err != nil {
		return err
	}
	m.recorder = recorder
	return nil
}

// Recorder returns the active metrics recorder. Never nil.
func (m *Manager) Recorder() Recorder {
	return m.recorder
}

// Handler serves the Prometheus scrape endpoint. When metrics are disabled
// it answers 503.
func (m *Manager) Handler() http.Handler {
	if m.provider == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
