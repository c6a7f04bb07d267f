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

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/capability/graph"
	"github.com/agentos-dev/agentos/pkg/capability/index"
)

// Options narrows one Discover call.
type Options struct {
	// Kind restricts results to one capability kind. Empty or "any"
	// matches all kinds.
	Kind capability.Kind

	// Category restricts results to one category.
	Category string

	// OnlyAvailable drops capabilities with missing secrets or tools.
	OnlyAvailable bool

	// UseGraphReranking applies 1-hop graph boosting.
	UseGraphReranking bool
}

// tier0Cache is published by swap and keyed by index version.
type tier0Cache struct {
	version uint64
	summary string
}

// Engine composes the index, graph, and assembler.
type Engine struct {
	cfg   AssemblerConfig
	index *index.Index
	graph graph.Graph

	initialized atomic.Bool
	tier0       atomic.Pointer[tier0Cache]

	// buildMu serializes Initialize and RefreshIndex so the graph is
	// never rebuilt concurrently with itself.
	buildMu sync.Mutex

	sources       []capability.Source
	coOccurrences []graph.CoOccurrence
}

// NewEngine creates a discovery engine over an index and graph.
func NewEngine(cfg AssemblerConfig, idx *index.Index, g graph.Graph) *Engine {
	cfg.SetDefaults()
	return &Engine{cfg: cfg, index: idx, graph: g}
}

// Initialized reports whether Initialize has completed successfully.
func (e *Engine) Initialized() bool {
	return e.initialized.Load()
}

// Config returns the assembler configuration in effect.
func (e *Engine) Config() AssemblerConfig {
	return e.cfg
}

// Initialize builds the index and graph from the sources.
func (e *Engine) Initialize(ctx context.Context, sources []capability.Source, coOccurrences []graph.CoOccurrence) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	result, err := e.index.Build(ctx, sources)
	if err != nil {
		return fmt.Errorf("failed to build capability index: %w", err)
	}
	if err := e.graph.Build(ctx, e.index.All(), coOccurrences); err != nil {
		return fmt.Errorf("failed to build capability graph: %w", err)
	}

	e.sources = sources
	e.coOccurrences = coOccurrences
	e.initialized.Store(true)

	slog.Info("Discovery engine initialized",
		"capabilities", result.Count,
		"version", result.Version)
	return nil
}

// RefreshIndex upserts the current sources, rebuilds the graph from the
// full descriptor set, and invalidates the Tier-0 cache via the version bump.
func (e *Engine) RefreshIndex(ctx context.Context) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	if _, err := e.index.Refresh(ctx, e.sources); err != nil {
		return fmt.Errorf("failed to refresh capability index: %w", err)
	}
	if err := e.graph.Build(ctx, e.index.All(), e.coOccurrences); err != nil {
		return fmt.Errorf("failed to rebuild capability graph: %w", err)
	}
	return nil
}

// Discover runs the full retrieval pipeline: semantic search with graph
// headroom, optional re-ranking, then tiered assembly within budgets.
func (e *Engine) Discover(ctx context.Context, query string, opts Options) (*Result, error) {
	if !e.initialized.Load() {
		return nil, fmt.Errorf("discovery engine is not initialized")
	}

	filter := index.SearchFilter{
		Category:      opts.Category,
		OnlyAvailable: opts.OnlyAvailable,
	}
	if opts.Kind != "" && opts.Kind != "any" {
		filter.Kind = opts.Kind
	}

	// Fetch twice the Tier-1 cut so graph boosting has headroom.
	topK := 2 * e.cfg.Tier1TopK

	embedStart := time.Now()
	results, err := e.index.Search(ctx, query, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("capability search failed: %w", err)
	}
	embeddingMs := time.Since(embedStart).Milliseconds()

	var graphMs int64
	if opts.UseGraphReranking {
		graphStart := time.Now()
		results, err = graph.Rerank(ctx, e.graph, e.index, results, e.cfg.GraphBoostFactor)
		if err != nil {
			return nil, fmt.Errorf("graph reranking failed: %w", err)
		}
		graphMs = time.Since(graphStart).Milliseconds()
	}

	version := e.index.Version()
	tier0 := e.tier0Summary(version)
	tier1 := AssembleTier1(results, e.cfg)
	tier2 := AssembleTier2(tier1, e.index.Get, e.cfg)

	total := 0
	for _, entry := range tier1 {
		total += entry.Tokens
	}
	for _, entry := range tier2 {
		total += entry.Tokens
	}

	return &Result{
		Query:        query,
		Tier0:        tier0,
		Tier1:        tier1,
		Tier2:        tier2,
		TotalTokens:  total,
		IndexVersion: version,
		EmbeddingMs:  embeddingMs,
		GraphMs:      graphMs,
	}, nil
}

// tier0Summary returns the cached category summary, rebuilding it when the
// index version moved.
func (e *Engine) tier0Summary(version uint64) string {
	if cached := e.tier0.Load(); cached != nil && cached.version == version {
		return cached.summary
	}
	summary := BuildTier0(e.index.All(), e.cfg.Tier0TokenBudget)
	e.tier0.Store(&tier0Cache{version: version, summary: summary})
	return summary
}
