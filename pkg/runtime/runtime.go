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

// Package runtime is the composition root: it builds every component from
// configuration and wires them into an orchestrator ready to serve turns.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/capability/discovery"
	"github.com/agentos-dev/agentos/pkg/capability/graph"
	"github.com/agentos-dev/agentos/pkg/capability/index"
	"github.com/agentos-dev/agentos/pkg/config"
	"github.com/agentos-dev/agentos/pkg/embedder"
	"github.com/agentos-dev/agentos/pkg/memory"
	"github.com/agentos-dev/agentos/pkg/model"
	"github.com/agentos-dev/agentos/pkg/observability"
	"github.com/agentos-dev/agentos/pkg/orchestrator"
	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/session"
	"github.com/agentos-dev/agentos/pkg/telemetry"
	"github.com/agentos-dev/agentos/pkg/tool"
	"github.com/agentos-dev/agentos/pkg/vector"
)

// Runtime owns the component graph built from one Config.
type Runtime struct {
	cfg *config.Config

	llm      model.LLM
	embedder embedder.Embedder
	vectors  vector.Provider

	tools   *tool.Registry
	engine  *discovery.Engine
	planner *planner.Planner
	tracker *telemetry.Tracker

	sessions session.Service
	memory   memory.Retriever

	obs  *observability.Manager
	orch *orchestrator.Orchestrator

	watcher *capability.Watcher
}

// New builds the component graph. Nothing touches the network or disk
// until Start.
func New(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	llm, err := model.NewOpenAIClient(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectors, err := vector.NewProvider(&cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector provider: %w", err)
	}

	secrets := make(map[string]bool, len(cfg.Capabilities.Secrets))
	for _, name := range cfg.Capabilities.Secrets {
		secrets[name] = true
	}

	idx := index.New(cfg.Capabilities.Index, vectors, emb, capability.MapSecretResolver(secrets))
	engine := discovery.NewEngine(cfg.Discovery, idx, graph.NewMemoryGraph())

	plnr, err := planner.New(cfg.Planner, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}

	var store telemetry.Store = telemetry.NewMemoryStore()
	if cfg.TelemetryStore != nil {
		sqlStore, err := telemetry.NewSQLStoreFromConfig(cfg.TelemetryStore)
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry store: %w", err)
		}
		store = sqlStore
	}
	tracker, err := telemetry.NewTracker(cfg.Telemetry, store, func(alert telemetry.Alert) {
		slog.Warn("Outcome quality alert",
			"scope", alert.ScopeKey,
			"weighted_success_rate", alert.WeightedSuccessRate,
			"samples", alert.SampleCount)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry tracker: %w", err)
	}

	obs := observability.NewManager(cfg.Observability)

	r := &Runtime{
		cfg:      cfg,
		llm:      llm,
		embedder: emb,
		vectors:  vectors,
		tools:    tool.NewRegistry(),
		engine:   engine,
		planner:  plnr,
		tracker:  tracker,
		sessions: session.NewMemoryService(cfg.Session.MaxMessages),
		memory:   memory.NewVectorRetriever(cfg.Memory, vectors, emb),
		obs:      obs,
	}
	return r, nil
}

// Start initializes observability, loads persisted telemetry, builds the
// capability index from the configured sources, and starts the manifest
// watcher when enabled.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := r.tracker.Load(ctx); err != nil {
		return fmt.Errorf("failed to load telemetry windows: %w", err)
	}

	if err := r.engine.Initialize(ctx, r.capabilitySources(), r.coOccurrences()); err != nil {
		return fmt.Errorf("failed to initialize discovery engine: %w", err)
	}

	orch, err := orchestrator.New(r.cfg.Orchestrator, orchestrator.Dependencies{
		LLM:      r.llm,
		Tools:    r.tools,
		Planner:  r.planner,
		Adaptive: r.cfg.Adaptive,
		Tracker:  r.tracker,
		Sessions: r.sessions,
		Memory:   r.memory,
		Metrics:  r.obs.Recorder(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	r.orch = orch

	if r.cfg.Capabilities.Watch && len(r.cfg.Capabilities.ManifestRoots) > 0 {
		if err := r.startWatcher(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Orchestrator returns the turn orchestrator. Nil before Start.
func (r *Runtime) Orchestrator() *orchestrator.Orchestrator {
	return r.orch
}

// Tools returns the tool registry for registering in-process tools.
// Register tools before Start so they appear in the capability index.
func (r *Runtime) Tools() *tool.Registry {
	return r.tools
}

// Observability returns the observability manager.
func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Close releases every component. Safe to call after a failed Start.
func (r *Runtime) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if r.watcher != nil {
		record(r.watcher.Stop())
	}
	record(r.tracker.Close())
	record(r.vectors.Close())
	record(r.embedder.Close())
	record(r.llm.Close())
	record(r.obs.Shutdown(context.Background()))
	return firstErr
}

// capabilitySources combines the manifest roots with a static source over
// the registered in-process tools.
func (r *Runtime) capabilitySources() []capability.Source {
	var sources []capability.Source
	if roots := r.cfg.Capabilities.ManifestRoots; len(roots) > 0 {
		sources = append(sources, capability.NewManifestSource(roots...))
	}
	if descriptors := toolDescriptors(r.tools); len(descriptors) > 0 {
		sources = append(sources, capability.NewStaticSource("builtin-tools", descriptors))
	}
	return sources
}

func (r *Runtime) coOccurrences() []graph.CoOccurrence {
	presets := r.cfg.Capabilities.CoOccurrencePresets
	out := make([]graph.CoOccurrence, 0, len(presets))
	for _, p := range presets {
		out = append(out, graph.CoOccurrence{Name: p.Name, CapabilityIDs: p.CapabilityIDs})
	}
	return out
}

// toolDescriptors projects registered tools into capability descriptors so
// discovery can select them alongside manifest-declared capabilities.
func toolDescriptors(registry *tool.Registry) []*capability.Descriptor {
	defs := registry.Definitions(nil)
	out := make([]*capability.Descriptor, 0, len(defs))
	for _, def := range defs {
		out = append(out, &capability.Descriptor{
			ID:          "tool:" + def.Name,
			Kind:        capability.KindTool,
			Name:        def.Name,
			Description: def.Description,
			FullSchema:  def.Parameters,
		})
	}
	return out
}

// startWatcher refreshes the index whenever manifests change on disk.
func (r *Runtime) startWatcher(ctx context.Context) error {
	watcher, err := capability.NewWatcher(capability.WatcherConfig{
		Roots:         r.cfg.Capabilities.ManifestRoots,
		DebounceDelay: time.Duration(r.cfg.Capabilities.WatchDebounceMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	refresh, err := watcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start manifest watcher: %w", err)
	}
	r.watcher = watcher

	go func() {
		for range refresh {
			if err := r.engine.RefreshIndex(context.Background()); err != nil {
				slog.Error("Capability index refresh failed", "error", err)
			}
		}
	}()
	return nil
}
