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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-dev/agentos/pkg/capability"
)

func graphDescriptors() []*capability.Descriptor {
	descs := []*capability.Descriptor{
		{Kind: capability.KindTool, Name: "web-search", Category: "research", Tags: []string{"search", "web", "lookup"}},
		{Kind: capability.KindTool, Name: "scrape-page", Category: "research", Tags: []string{"web", "lookup"}},
		{Kind: capability.KindTool, Name: "send-email", Category: "communication"},
		{Kind: capability.KindSkill, Name: "summarize-thread", Category: "research", RequiredTools: []string{"web-search"}},
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			panic(err)
		}
	}
	return descs
}

func findEdge(edges []Edge, source, target string, typ EdgeType) (Edge, bool) {
	for _, e := range edges {
		if e.Type != typ {
			continue
		}
		if (e.SourceID == source && e.TargetID == target) ||
			(typ != EdgeDependsOn && e.SourceID == target && e.TargetID == source) {
			return e, true
		}
	}
	return Edge{}, false
}

func TestBuildEdges(t *testing.T) {
	descs := graphDescriptors()

	t.Run("depends_on links skill to required tool", func(t *testing.T) {
		edges := BuildEdges(descs, nil)

		e, ok := findEdge(edges, "skill:summarize-thread", "tool:web-search", EdgeDependsOn)
		require.True(t, ok)
		assert.Equal(t, 1.0, e.Weight)
	})

	t.Run("depends_on skips missing tools", func(t *testing.T) {
		withMissing := append(graphDescriptors(), &capability.Descriptor{
			ID:            "skill:broken",
			Kind:          capability.KindSkill,
			Name:          "broken",
			RequiredTools: []string{"nonexistent"},
		})
		edges := BuildEdges(withMissing, nil)

		_, ok := findEdge(edges, "skill:broken", "tool:nonexistent", EdgeDependsOn)
		assert.False(t, ok)
	})

	t.Run("composed_with is additive across presets", func(t *testing.T) {
		presets := []CoOccurrence{
			{Name: "research-pack", CapabilityIDs: []string{"tool:web-search", "tool:scrape-page"}},
			{Name: "deep-dive", CapabilityIDs: []string{"tool:web-search", "tool:scrape-page", "skill:summarize-thread"}},
		}
		edges := BuildEdges(descs, presets)

		e, ok := findEdge(edges, "tool:web-search", "tool:scrape-page", EdgeComposedWith)
		require.True(t, ok)
		assert.InDelta(t, 1.0, e.Weight, 1e-9, "two presets contribute 0.5 each")

		e, ok = findEdge(edges, "tool:scrape-page", "skill:summarize-thread", EdgeComposedWith)
		require.True(t, ok)
		assert.InDelta(t, 0.5, e.Weight, 1e-9)
	})

	t.Run("tagged_with requires two shared tags", func(t *testing.T) {
		edges := BuildEdges(descs, nil)

		e, ok := findEdge(edges, "tool:web-search", "tool:scrape-page", EdgeTaggedWith)
		require.True(t, ok, "web-search and scrape-page share web+lookup")
		assert.InDelta(t, 0.6, e.Weight, 1e-9, "0.3 × 2 shared tags")

		_, ok = findEdge(edges, "tool:web-search", "tool:send-email", EdgeTaggedWith)
		assert.False(t, ok)
	})

	t.Run("same_category groups same kind only", func(t *testing.T) {
		edges := BuildEdges(descs, nil)

		e, ok := findEdge(edges, "tool:web-search", "tool:scrape-page", EdgeSameCategory)
		require.True(t, ok)
		assert.InDelta(t, 0.1, e.Weight, 1e-9)

		// The skill shares the research category but not the kind.
		_, ok = findEdge(edges, "tool:web-search", "skill:summarize-thread", EdgeSameCategory)
		assert.False(t, ok)
	})

	t.Run("all weights positive and endpoints present", func(t *testing.T) {
		present := make(map[string]bool)
		for _, d := range descs {
			present[d.ID] = true
		}
		for _, e := range BuildEdges(descs, nil) {
			assert.Greater(t, e.Weight, 0.0)
			assert.True(t, present[e.SourceID], "unknown source %s", e.SourceID)
			assert.True(t, present[e.TargetID], "unknown target %s", e.TargetID)
		}
	})
}

func TestMemoryGraph(t *testing.T) {
	g := NewMemoryGraph()
	require.NoError(t, g.Build(context.Background(), graphDescriptors(), nil))

	t.Run("related sorted by weight descending", func(t *testing.T) {
		neighbors := g.Related("tool:web-search")
		require.NotEmpty(t, neighbors)
		for i := 1; i < len(neighbors); i++ {
			assert.GreaterOrEqual(t, neighbors[i-1].Weight, neighbors[i].Weight)
		}
	})

	t.Run("depends_on is directed", func(t *testing.T) {
		forward := g.Related("skill:summarize-thread")
		var hasDep bool
		for _, n := range forward {
			if n.ID == "tool:web-search" && n.Type == EdgeDependsOn {
				hasDep = true
			}
		}
		assert.True(t, hasDep)

		reverse := g.Related("tool:web-search")
		for _, n := range reverse {
			if n.Type == EdgeDependsOn {
				assert.NotEqual(t, "skill:summarize-thread", n.ID,
					"dependency edges must not traverse tool→skill")
			}
		}
	})

	t.Run("sync and async variants agree", func(t *testing.T) {
		sync := g.Related("tool:web-search")
		async, err := g.RelatedContext(context.Background(), "tool:web-search")
		require.NoError(t, err)
		assert.Equal(t, sync, async)
	})

	t.Run("rebuild replaces edges", func(t *testing.T) {
		fresh := NewMemoryGraph()
		require.NoError(t, fresh.Build(context.Background(), graphDescriptors(), nil))
		before := len(fresh.Edges())
		require.NoError(t, fresh.Build(context.Background(), nil, nil))
		assert.Empty(t, fresh.Edges())
		assert.Greater(t, before, 0)
	})

	t.Run("idempotent rebuild", func(t *testing.T) {
		a := NewMemoryGraph()
		b := NewMemoryGraph()
		require.NoError(t, a.Build(context.Background(), graphDescriptors(), nil))
		require.NoError(t, b.Build(context.Background(), graphDescriptors(), nil))
		assert.Equal(t, a.Edges(), b.Edges())
	})
}

// memoryEdgeStore is a trivial EdgeStore for tests.
type memoryEdgeStore struct {
	edges []Edge
}

func (s *memoryEdgeStore) ReplaceEdges(ctx context.Context, edges []Edge) error {
	s.edges = edges
	return nil
}

func (s *memoryEdgeStore) LoadEdges(ctx context.Context) ([]Edge, error) {
	return s.edges, nil
}

func (s *memoryEdgeStore) Close() error { return nil }

func TestStoreGraph(t *testing.T) {
	store := &memoryEdgeStore{}
	g := NewStoreGraph(store)
	require.NoError(t, g.Build(context.Background(), graphDescriptors(), nil))

	t.Run("sync calls return empty", func(t *testing.T) {
		assert.Nil(t, g.Related("tool:web-search"))
		assert.Nil(t, g.Edges())
	})

	t.Run("async calls are authoritative", func(t *testing.T) {
		neighbors, err := g.RelatedContext(context.Background(), "tool:web-search")
		require.NoError(t, err)
		assert.NotEmpty(t, neighbors)

		edges, err := g.EdgesContext(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, edges)
	})
}
