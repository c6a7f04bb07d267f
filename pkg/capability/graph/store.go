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

package graph

import (
	"context"

	"github.com/agentos-dev/agentos/pkg/capability"
)

// EdgeStore persists graph edges outside process memory.
type EdgeStore interface {
	// ReplaceEdges atomically overwrites the stored edge set.
	ReplaceEdges(ctx context.Context, edges []Edge) error

	// LoadEdges returns all stored edges.
	LoadEdges(ctx context.Context) ([]Edge, error)

	// Close releases store resources.
	Close() error
}

// StoreGraph is a graph backed by a persistent EdgeStore. The synchronous
// observation methods return empty; callers on store-backed deployments must
// use the context variants.
type StoreGraph struct {
	store EdgeStore
}

// NewStoreGraph creates a store-backed graph.
func NewStoreGraph(store EdgeStore) *StoreGraph {
	return &StoreGraph{store: store}
}

// Build rebuilds the edge set and overwrites the store.
func (g *StoreGraph) Build(ctx context.Context, descriptors []*capability.Descriptor, coOccurrences []CoOccurrence) error {
	edges := BuildEdges(descriptors, coOccurrences)
	return g.store.ReplaceEdges(ctx, edges)
}

// Related always returns nil. Use RelatedContext.
func (g *StoreGraph) Related(id string) []Neighbor { return nil }

// RelatedContext loads edges from the store and traverses one hop.
func (g *StoreGraph) RelatedContext(ctx context.Context, id string) ([]Neighbor, error) {
	edges, err := g.store.LoadEdges(ctx)
	if err != nil {
		return nil, err
	}
	return adjacency(edges)[id], nil
}

// Edges always returns nil. Use EdgesContext.
func (g *StoreGraph) Edges() []Edge { return nil }

// EdgesContext loads all edges from the store.
func (g *StoreGraph) EdgesContext(ctx context.Context) ([]Edge, error) {
	return g.store.LoadEdges(ctx)
}

var _ Graph = (*StoreGraph)(nil)
