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
	"sync"

	"github.com/agentos-dev/agentos/pkg/capability"
)

// MemoryGraph holds all edges in process memory. Both the synchronous and
// asynchronous observation methods return identical results.
//
// Build replaces the edge set atomically: readers see either the old graph
// or the new one, never a torn state.
type MemoryGraph struct {
	mu    sync.RWMutex
	edges []Edge
	adj   map[string][]Neighbor
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{adj: make(map[string][]Neighbor)}
}

// Build clears and rebuilds all edges from the descriptor set.
func (g *MemoryGraph) Build(ctx context.Context, descriptors []*capability.Descriptor, coOccurrences []CoOccurrence) error {
	edges := BuildEdges(descriptors, coOccurrences)
	adj := adjacency(edges)

	g.mu.Lock()
	g.edges = edges
	g.adj = adj
	g.mu.Unlock()
	return nil
}

// Related returns 1-hop neighbors sorted by weight descending.
func (g *MemoryGraph) Related(id string) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adj[id]
}

// RelatedContext returns the same result as Related.
func (g *MemoryGraph) RelatedContext(ctx context.Context, id string) ([]Neighbor, error) {
	return g.Related(id), nil
}

// Edges returns all edges.
func (g *MemoryGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges
}

// EdgesContext returns the same result as Edges.
func (g *MemoryGraph) EdgesContext(ctx context.Context) ([]Edge, error) {
	return g.Edges(), nil
}

var _ Graph = (*MemoryGraph)(nil)
