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

// Package index embeds capability descriptors and serves filtered vector
// searches over them.
//
// The index exclusively owns the descriptor table and the vector collection.
// Readers run concurrently; build, upsert, and refresh take the writer lock.
// The version counter is monotonic and published atomically so callers can
// key caches on it without holding the lock.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/embedder"
	"github.com/agentos-dev/agentos/pkg/vector"
)

const (
	defaultCollection = "capabilities"

	// embedBatchSize bounds one embedding API call.
	embedBatchSize = 32
)

// SearchFilter narrows search results after the vector query.
type SearchFilter struct {
	// Kind restricts results to one capability kind. Empty matches all.
	Kind capability.Kind

	// Category restricts results to one category. Empty matches all.
	Category string

	// OnlyAvailable drops descriptors whose required secrets or tools
	// are missing.
	OnlyAvailable bool
}

// SearchResult pairs a descriptor with its similarity score.
type SearchResult struct {
	Descriptor *capability.Descriptor
	Score      float32

	// Boosted marks results inserted by graph re-ranking rather than
	// returned by the vector search itself.
	Boosted bool
}

// BuildResult reports the outcome of a build or refresh.
type BuildResult struct {
	Count   int
	Version uint64
}

// Config configures the capability index.
type Config struct {
	Collection string `yaml:"collection,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
}

// Index is the capability index (vector store + descriptor table).
type Index struct {
	mu       sync.RWMutex
	vectors  vector.Provider
	embedder embedder.Embedder
	secrets  capability.SecretResolver

	collection  string
	descriptors map[string]*capability.Descriptor

	// embedFailed tracks descriptors whose embedding batch failed. They
	// remain in the table (availability is a secrets/tools question, not
	// an embedding one) but callers can exclude them.
	embedFailed map[string]bool

	version atomic.Uint64
}

// New creates a capability index.
func New(cfg Config, vectors vector.Provider, emb embedder.Embedder, secrets capability.SecretResolver) *Index {
	cfg.SetDefaults()
	if secrets == nil {
		secrets = func(string) bool { return false }
	}
	return &Index{
		vectors:     vectors,
		embedder:    emb,
		secrets:     secrets,
		collection:  cfg.Collection,
		descriptors: make(map[string]*capability.Descriptor),
		embedFailed: make(map[string]bool),
	}
}

// Version returns the current index version. Bumped on every successful
// build, upsert, or refresh.
func (idx *Index) Version() uint64 {
	return idx.version.Load()
}

// Count returns the number of indexed descriptors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.descriptors)
}

// Get returns a descriptor by id.
func (idx *Index) Get(id string) (*capability.Descriptor, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	d, ok := idx.descriptors[id]
	return d, ok
}

// All returns a snapshot of all indexed descriptors.
func (idx *Index) All() []*capability.Descriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*capability.Descriptor, 0, len(idx.descriptors))
	for _, d := range idx.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EmbedFailed reports whether the descriptor's last embedding attempt failed.
func (idx *Index) EmbedFailed(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.embedFailed[id]
}

// Build normalizes descriptors from all sources, derives availability,
// embeds them in batches, and replaces the index contents.
func (idx *Index) Build(ctx context.Context, sources []capability.Source) (*BuildResult, error) {
	descriptors, err := collect(ctx, sources)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	idx.descriptors = make(map[string]*capability.Descriptor, len(descriptors))
	idx.embedFailed = make(map[string]bool)

	if err := idx.ingestLocked(ctx, descriptors); err != nil {
		return nil, err
	}

	version := idx.version.Add(1)
	slog.Info("Capability index built",
		"count", len(idx.descriptors),
		"version", version)

	return &BuildResult{Count: len(idx.descriptors), Version: version}, nil
}

// Upsert indexes a single descriptor, replacing any existing entry with the
// same id. Bumps the version so Tier-0 caches are invalidated.
func (idx *Index) Upsert(ctx context.Context, desc *capability.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.ensureCollection(ctx); err != nil {
		return err
	}
	if err := idx.ingestLocked(ctx, []*capability.Descriptor{desc}); err != nil {
		return err
	}

	idx.version.Add(1)
	return nil
}

// Refresh re-collects from the sources and ingests additively: new and
// changed descriptors are upserted, existing ones are kept. The caller is
// expected to rebuild the graph from All() afterwards.
func (idx *Index) Refresh(ctx context.Context, sources []capability.Source) (*BuildResult, error) {
	descriptors, err := collect(ctx, sources)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if err := idx.ingestLocked(ctx, descriptors); err != nil {
		return nil, err
	}

	version := idx.version.Add(1)
	return &BuildResult{Count: len(idx.descriptors), Version: version}, nil
}

// Search embeds the query, runs a vector top-K, and applies the post-filter.
// Results are sorted descending by score.
func (idx *Index) Search(ctx context.Context, query string, topK int, filter SearchFilter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch so post-filtering still yields topK results.
	raw, err := idx.vectors.Query(ctx, idx.collection, queryVector, vector.QueryOptions{
		TopK: topK * 3,
	})
	if err != nil {
		return nil, fmt.Errorf("capability search failed: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]SearchResult, 0, topK)
	for _, r := range raw {
		desc, ok := idx.descriptors[r.ID]
		if !ok {
			continue // stale vector entry
		}
		if filter.Kind != "" && desc.Kind != filter.Kind {
			continue
		}
		if filter.Category != "" && desc.Category != filter.Category {
			continue
		}
		if filter.OnlyAvailable && !desc.Available {
			continue
		}
		results = append(results, SearchResult{Descriptor: desc, Score: r.Score})
		if len(results) >= topK {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Close releases the vector provider.
func (idx *Index) Close() error {
	return idx.vectors.Close()
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.vectors.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := idx.vectors.CreateCollection(ctx, idx.collection, idx.embedder.Dimension()); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return nil
}

// ingestLocked deduplicates, derives availability, embeds, and upserts.
// Caller holds the writer lock.
func (idx *Index) ingestLocked(ctx context.Context, descriptors []*capability.Descriptor) error {
	deduped := make([]*capability.Descriptor, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			slog.Warn("Skipping invalid capability descriptor", "error", err)
			continue
		}
		if seen[d.ID] {
			slog.Warn("Skipping duplicate capability id", "id", d.ID)
			continue
		}
		seen[d.ID] = true
		deduped = append(deduped, d)
	}

	toolNames := make(map[string]bool)
	for _, d := range deduped {
		if d.Kind == capability.KindTool {
			toolNames[d.Name] = true
		}
	}
	for _, d := range idx.descriptors {
		if d.Kind == capability.KindTool {
			toolNames[d.Name] = true
		}
	}

	for _, d := range deduped {
		d.Available = idx.deriveAvailability(d, toolNames)
	}

	for start := 0; start < len(deduped); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		batch := deduped[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = EmbeddingText(d)
		}

		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Descriptors stay in the table; only the embedding is
			// marked failed so discovery can exclude them.
			slog.Error("Failed to embed capability batch",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err)
			for _, d := range batch {
				idx.descriptors[d.ID] = d
				idx.embedFailed[d.ID] = true
			}
			continue
		}

		for i, d := range batch {
			metadata := map[string]any{
				"kind":      string(d.Kind),
				"category":  d.Category,
				"available": d.Available,
				"tags":      strings.Join(d.Tags, ","),
			}
			if err := idx.vectors.Upsert(ctx, idx.collection, d.ID, vectors[i], metadata); err != nil {
				slog.Error("Failed to upsert capability vector", "id", d.ID, "error", err)
				idx.descriptors[d.ID] = d
				idx.embedFailed[d.ID] = true
				continue
			}
			idx.descriptors[d.ID] = d
			delete(idx.embedFailed, d.ID)
		}
	}

	return nil
}

// deriveAvailability ties availability to secret and tool presence only.
func (idx *Index) deriveAvailability(d *capability.Descriptor, toolNames map[string]bool) bool {
	for _, secret := range d.RequiredSecrets {
		if !idx.secrets(secret) {
			return false
		}
	}
	for _, tool := range d.RequiredTools {
		if !toolNames[tool] {
			return false
		}
	}
	return true
}

func collect(ctx context.Context, sources []capability.Source) ([]*capability.Descriptor, error) {
	var all []*capability.Descriptor
	for _, src := range sources {
		descriptors, err := src.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("source %q failed: %w", src.Name(), err)
		}
		all = append(all, descriptors...)
	}
	return all, nil
}

// EmbeddingText renders the descriptor into the text that gets embedded.
//
// The ordering is a contract: name, description, category, use cases,
// tool parameters, required tools. Schema blobs and skill content are
// deliberately excluded.
func EmbeddingText(d *capability.Descriptor) string {
	var parts []string

	parts = append(parts, d.EffectiveName())

	if d.Description != "" {
		parts = append(parts, d.Description)
	}
	if d.Category != "" {
		parts = append(parts, fmt.Sprintf("Category: %s", d.Category))
	}
	if len(d.Tags) > 0 {
		parts = append(parts, fmt.Sprintf("Use cases: %s", strings.Join(d.Tags, ", ")))
	}
	if d.Kind == capability.KindTool {
		if params := schemaPropertyNames(d.FullSchema); len(params) > 0 {
			parts = append(parts, fmt.Sprintf("Parameters: %s", strings.Join(params, ", ")))
		}
	}
	if len(d.RequiredTools) > 0 {
		parts = append(parts, fmt.Sprintf("Requires: %s", strings.Join(d.RequiredTools, ", ")))
	}

	return strings.Join(parts, "\n")
}

// schemaPropertyNames extracts sorted top-level property names from a JSON
// schema shaped map.
func schemaPropertyNames(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
