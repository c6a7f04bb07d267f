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

// Package graph maintains a relationship graph over capabilities and uses it
// to re-rank discovery results via 1-hop traversal.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/capability/index"
)

// EdgeType classifies a capability relationship.
type EdgeType string

const (
	// EdgeDependsOn links a skill to a tool it requires. Directed.
	EdgeDependsOn EdgeType = "DEPENDS_ON"

	// EdgeComposedWith links capabilities that co-occur in presets.
	EdgeComposedWith EdgeType = "COMPOSED_WITH"

	// EdgeTaggedWith links capabilities sharing two or more tags.
	EdgeTaggedWith EdgeType = "TAGGED_WITH"

	// EdgeSameCategory links small same-kind category groups.
	EdgeSameCategory EdgeType = "SAME_CATEGORY"
)

const (
	weightDependsOn    = 1.0
	weightComposedWith = 0.5
	weightTaggedWith   = 0.3
	weightSameCategory = 0.1

	// Category groups outside this size range carry no signal: singletons
	// have no pairs, large groups would link everything to everything.
	sameCategoryMinGroup = 2
	sameCategoryMaxGroup = 8

	taggedWithMinOverlap = 2
)

// Edge is one relationship between two capabilities.
// Undirected except DEPENDS_ON.
type Edge struct {
	SourceID string
	TargetID string
	Type     EdgeType
	Weight   float64
}

// Neighbor is a 1-hop traversal result.
type Neighbor struct {
	ID     string
	Weight float64
	Type   EdgeType
}

// CoOccurrence is a preset listing capability ids that are used together.
type CoOccurrence struct {
	Name          string
	CapabilityIDs []string
}

// Graph exposes both synchronous and asynchronous observation. In-memory
// implementations answer both identically; store-backed implementations
// return empty on the synchronous calls, and only the context variants are
// authoritative.
type Graph interface {
	// Build clears and rebuilds all edges from the descriptor set.
	Build(ctx context.Context, descriptors []*capability.Descriptor, coOccurrences []CoOccurrence) error

	// Related returns 1-hop neighbors sorted by weight descending.
	// Store-backed graphs return nil here.
	Related(id string) []Neighbor

	// RelatedContext is the authoritative async variant of Related.
	RelatedContext(ctx context.Context, id string) ([]Neighbor, error)

	// Edges returns all edges. Store-backed graphs return nil here.
	Edges() []Edge

	// EdgesContext is the authoritative async variant of Edges.
	EdgesContext(ctx context.Context) ([]Edge, error)
}

// BuildEdges derives the full edge set from descriptors and presets.
func BuildEdges(descriptors []*capability.Descriptor, coOccurrences []CoOccurrence) []Edge {
	present := make(map[string]*capability.Descriptor, len(descriptors))
	for _, d := range descriptors {
		present[d.ID] = d
	}

	var edges []Edge

	// DEPENDS_ON: skill → required tool.
	for _, d := range descriptors {
		if d.Kind != capability.KindSkill {
			continue
		}
		for _, toolName := range d.RequiredTools {
			targetID := fmt.Sprintf("%s:%s", capability.KindTool, toolName)
			if _, ok := present[targetID]; !ok {
				continue
			}
			edges = append(edges, Edge{
				SourceID: d.ID,
				TargetID: targetID,
				Type:     EdgeDependsOn,
				Weight:   weightDependsOn,
			})
		}
	}

	// COMPOSED_WITH: all unordered pairs per preset, additive across presets.
	composed := make(map[[2]string]float64)
	for _, preset := range coOccurrences {
		ids := make([]string, 0, len(preset.CapabilityIDs))
		for _, id := range preset.CapabilityIDs {
			if _, ok := present[id]; ok {
				ids = append(ids, id)
			}
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				composed[pairKey(ids[i], ids[j])] += weightComposedWith
			}
		}
	}
	for pair, weight := range composed {
		edges = append(edges, Edge{
			SourceID: pair[0],
			TargetID: pair[1],
			Type:     EdgeComposedWith,
			Weight:   weight,
		})
	}

	// TAGGED_WITH: pairs sharing at least two tags.
	for i := 0; i < len(descriptors); i++ {
		for j := i + 1; j < len(descriptors); j++ {
			overlap := tagOverlap(descriptors[i].Tags, descriptors[j].Tags)
			if overlap < taggedWithMinOverlap {
				continue
			}
			edges = append(edges, Edge{
				SourceID: descriptors[i].ID,
				TargetID: descriptors[j].ID,
				Type:     EdgeTaggedWith,
				Weight:   weightTaggedWith * float64(overlap),
			})
		}
	}

	// SAME_CATEGORY: all pairs within small same-kind category groups.
	groups := make(map[string][]*capability.Descriptor)
	for _, d := range descriptors {
		if d.Category == "" {
			continue
		}
		key := string(d.Kind) + "/" + d.Category
		groups[key] = append(groups[key], d)
	}
	groupKeys := make([]string, 0, len(groups))
	for key := range groups {
		groupKeys = append(groupKeys, key)
	}
	sort.Strings(groupKeys)
	for _, key := range groupKeys {
		group := groups[key]
		if len(group) < sameCategoryMinGroup || len(group) > sameCategoryMaxGroup {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				edges = append(edges, Edge{
					SourceID: group[i].ID,
					TargetID: group[j].ID,
					Type:     EdgeSameCategory,
					Weight:   weightSameCategory,
				})
			}
		}
	}

	return edges
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func tagOverlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	overlap := 0
	for _, tag := range b {
		if set[tag] {
			overlap++
		}
	}
	return overlap
}

// adjacency builds the neighbor map from an edge list. DEPENDS_ON is
// directed; every other type contributes both directions.
func adjacency(edges []Edge) map[string][]Neighbor {
	adj := make(map[string][]Neighbor)
	for _, e := range edges {
		adj[e.SourceID] = append(adj[e.SourceID], Neighbor{ID: e.TargetID, Weight: e.Weight, Type: e.Type})
		if e.Type != EdgeDependsOn {
			adj[e.TargetID] = append(adj[e.TargetID], Neighbor{ID: e.SourceID, Weight: e.Weight, Type: e.Type})
		}
	}
	for id := range adj {
		neighbors := adj[id]
		sort.SliceStable(neighbors, func(i, j int) bool { return neighbors[i].Weight > neighbors[j].Weight })
		adj[id] = neighbors
	}
	return adj
}

// Rerank applies 1-hop graph boosting to a scored result list.
//
// Results already in the set get boostFactor×weight added for every related
// in-set neighbor. Strong neighbors (DEPENDS_ON, COMPOSED_WITH) that are
// missing from the set are fetched from the index and inserted with a
// derived score, marked boosted. Finally sorted descending.
func Rerank(ctx context.Context, g Graph, idx *index.Index, results []index.SearchResult, boostFactor float64) ([]index.SearchResult, error) {
	if len(results) == 0 || boostFactor <= 0 {
		return results, nil
	}

	position := make(map[string]int, len(results))
	for i, r := range results {
		position[r.Descriptor.ID] = i
	}

	out := make([]index.SearchResult, len(results))
	copy(out, results)

	for _, r := range results {
		neighbors, err := g.RelatedContext(ctx, r.Descriptor.ID)
		if err != nil {
			return nil, fmt.Errorf("graph traversal failed for %q: %w", r.Descriptor.ID, err)
		}
		for _, n := range neighbors {
			if pos, ok := position[n.ID]; ok {
				out[pos].Score += float32(boostFactor * n.Weight)
				continue
			}
			if n.Type != EdgeDependsOn && n.Type != EdgeComposedWith {
				continue
			}
			desc, ok := idx.Get(n.ID)
			if !ok {
				continue
			}
			inserted := index.SearchResult{
				Descriptor: desc,
				Score:      r.Score * float32(boostFactor*n.Weight),
				Boosted:    true,
			}
			position[n.ID] = len(out)
			out = append(out, inserted)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
