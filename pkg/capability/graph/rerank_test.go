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
	"github.com/agentos-dev/agentos/pkg/capability/index"
	"github.com/agentos-dev/agentos/pkg/vector"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 2 }
func (stubEmbedder) Model() string  { return "stub" }
func (stubEmbedder) Close() error   { return nil }

type stubVectorStore struct{}

func (stubVectorStore) Name() string { return "stub" }
func (stubVectorStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}
func (stubVectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}
func (stubVectorStore) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	return nil
}
func (stubVectorStore) Query(ctx context.Context, collection string, vec []float32, opts vector.QueryOptions) ([]vector.Result, error) {
	return nil, nil
}
func (stubVectorStore) Delete(ctx context.Context, collection, id string) error { return nil }
func (stubVectorStore) Close() error                                            { return nil }

func rerankFixture(t *testing.T) (*index.Index, *MemoryGraph) {
	t.Helper()

	idx := index.New(index.Config{}, stubVectorStore{}, stubEmbedder{}, nil)
	descs := graphDescriptors()
	_, err := idx.Build(context.Background(), []capability.Source{
		capability.NewStaticSource("test", descs),
	})
	require.NoError(t, err)

	g := NewMemoryGraph()
	require.NoError(t, g.Build(context.Background(), idx.All(), nil))
	return idx, g
}

func TestRerank(t *testing.T) {
	idx, g := rerankFixture(t)

	t.Run("boosts in-set neighbors", func(t *testing.T) {
		search, _ := idx.Get("tool:web-search")
		scrape, _ := idx.Get("tool:scrape-page")
		email, _ := idx.Get("tool:send-email")

		results := []index.SearchResult{
			{Descriptor: email, Score: 0.9},
			{Descriptor: scrape, Score: 0.85},
			{Descriptor: search, Score: 0.8},
		}

		reranked, err := Rerank(context.Background(), g, idx, results, 0.15)
		require.NoError(t, err)

		scores := make(map[string]float32)
		for _, r := range reranked {
			scores[r.Descriptor.ID] = r.Score
		}

		// scrape-page and web-search boost each other (tagged + same
		// category); send-email has no neighbors in the set.
		assert.Greater(t, scores["tool:scrape-page"], float32(0.85))
		assert.Greater(t, scores["tool:web-search"], float32(0.8))
		assert.InDelta(t, 0.9, scores["tool:send-email"], 1e-6)
	})

	t.Run("inserts strong out-of-set dependencies", func(t *testing.T) {
		skill, _ := idx.Get("skill:summarize-thread")

		results := []index.SearchResult{{Descriptor: skill, Score: 0.8}}

		reranked, err := Rerank(context.Background(), g, idx, results, 0.15)
		require.NoError(t, err)
		require.Len(t, reranked, 2)

		var inserted *index.SearchResult
		for i := range reranked {
			if reranked[i].Descriptor.ID == "tool:web-search" {
				inserted = &reranked[i]
			}
		}
		require.NotNil(t, inserted, "required tool must be pulled into the result set")
		assert.True(t, inserted.Boosted)
		assert.InDelta(t, 0.8*0.15*1.0, float64(inserted.Score), 1e-6)
	})

	t.Run("weak edges do not insert", func(t *testing.T) {
		search, _ := idx.Get("tool:web-search")

		results := []index.SearchResult{{Descriptor: search, Score: 0.8}}

		reranked, err := Rerank(context.Background(), g, idx, results, 0.15)
		require.NoError(t, err)
		assert.Len(t, reranked, 1, "tagged/category neighbors are boost-only")
	})

	t.Run("sorted descending after boost", func(t *testing.T) {
		skill, _ := idx.Get("skill:summarize-thread")
		scrape, _ := idx.Get("tool:scrape-page")

		results := []index.SearchResult{
			{Descriptor: skill, Score: 0.8},
			{Descriptor: scrape, Score: 0.7},
		}

		reranked, err := Rerank(context.Background(), g, idx, results, 0.15)
		require.NoError(t, err)
		for i := 1; i < len(reranked); i++ {
			assert.GreaterOrEqual(t, reranked[i-1].Score, reranked[i].Score)
		}
	})

	t.Run("zero boost factor is a no-op", func(t *testing.T) {
		skill, _ := idx.Get("skill:summarize-thread")
		results := []index.SearchResult{{Descriptor: skill, Score: 0.8}}

		reranked, err := Rerank(context.Background(), g, idx, results, 0)
		require.NoError(t, err)
		assert.Equal(t, results, reranked)
	})
}
