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

// Package memory provides long-term memory recall for turn orchestration.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentos-dev/agentos/pkg/embedder"
	"github.com/agentos-dev/agentos/pkg/vector"
)

// Scopes selects which memory dimensions a recall reads from.
type Scopes struct {
	User         bool `json:"user"`
	Persona      bool `json:"persona"`
	Organization bool `json:"organization"`
}

// Query identifies one recall request.
type Query struct {
	Text           string
	UserID         string
	PersonaID      string
	OrganizationID string
	Scopes         Scopes
}

// Recall is the merged retrieval result.
type Recall struct {
	// Profile names the recall configuration that produced this result.
	Profile string

	// Context is the merged text to inject into the prompt.
	Context string

	// Fragments is the number of retrieved memory fragments.
	Fragments int
}

// Retriever serves long-term memory recall.
type Retriever interface {
	// Retrieve returns merged memory context for the query. A nil result
	// means nothing relevant was found.
	Retrieve(ctx context.Context, query Query) (*Recall, error)
}

// Config configures the vector-backed retriever.
type Config struct {
	// Profile names this recall configuration.
	Profile string `yaml:"profile,omitempty"`

	Collection string `yaml:"collection,omitempty"`

	// MaxContextChars bounds the merged context text.
	MaxContextChars int `yaml:"max_context_chars,omitempty"`

	// TopKPerScope bounds retrieval per enabled scope.
	TopKPerScope int `yaml:"top_k_per_scope,omitempty"`

	MinScore float32 `yaml:"min_score,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Profile == "" {
		c.Profile = "default"
	}
	if c.Collection == "" {
		c.Collection = "long_term_memory"
	}
	if c.MaxContextChars == 0 {
		c.MaxContextChars = 4200
	}
	if c.TopKPerScope == 0 {
		c.TopKPerScope = 8
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
}

// VectorRetriever recalls memories from a vector store, one filtered query
// per enabled scope.
type VectorRetriever struct {
	cfg      Config
	vectors  vector.Provider
	embedder embedder.Embedder
}

// NewVectorRetriever creates a vector-backed retriever.
func NewVectorRetriever(cfg Config, vectors vector.Provider, emb embedder.Embedder) *VectorRetriever {
	cfg.SetDefaults()
	return &VectorRetriever{cfg: cfg, vectors: vectors, embedder: emb}
}

// Retrieve merges per-scope retrievals into one bounded context block.
func (r *VectorRetriever) Retrieve(ctx context.Context, query Query) (*Recall, error) {
	queryVector, err := r.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed recall query: %w", err)
	}

	type scopeFilter struct {
		name   string
		filter map[string]any
	}
	var filters []scopeFilter
	if query.Scopes.User && query.UserID != "" {
		filters = append(filters, scopeFilter{"user", map[string]any{"user_id": query.UserID}})
	}
	if query.Scopes.Persona && query.PersonaID != "" {
		filters = append(filters, scopeFilter{"persona", map[string]any{"persona_id": query.PersonaID}})
	}
	if query.Scopes.Organization && query.OrganizationID != "" {
		filters = append(filters, scopeFilter{"organization", map[string]any{"organization_id": query.OrganizationID}})
	}
	if len(filters) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fragments := 0
	seen := make(map[string]bool)

	for _, sf := range filters {
		results, err := r.vectors.Query(ctx, r.cfg.Collection, queryVector, vector.QueryOptions{
			TopK:     r.cfg.TopKPerScope,
			Filter:   sf.filter,
			MinScore: r.cfg.MinScore,
		})
		if err != nil {
			return nil, fmt.Errorf("memory recall failed for %s scope: %w", sf.name, err)
		}
		for _, res := range results {
			if res.Content == "" || seen[res.ID] {
				continue
			}
			fragment := "- " + res.Content + "\n"
			if b.Len()+len(fragment) > r.cfg.MaxContextChars {
				break
			}
			seen[res.ID] = true
			b.WriteString(fragment)
			fragments++
		}
	}

	if fragments == 0 {
		return nil, nil
	}

	return &Recall{
		Profile:   r.cfg.Profile,
		Context:   strings.TrimRight(b.String(), "\n"),
		Fragments: fragments,
	}, nil
}

var _ Retriever = (*VectorRetriever)(nil)
