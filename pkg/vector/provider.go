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

// Package vector provides vector storage backends for semantic search.
//
// Two providers are included:
//   - chromem: embedded, pure Go, zero external services (default)
//   - qdrant: server-backed, for production deployments
//
// Providers receive pre-computed embeddings; embedding itself is the
// embedder package's job.
package vector

import "context"

// Result is a single similarity match.
type Result struct {
	// ID of the stored document.
	ID string

	// Score is the similarity score (cosine, higher is better).
	Score float32

	// Content is the stored text content, if any.
	Content string

	// Metadata stored alongside the vector.
	Metadata map[string]any
}

// QueryOptions controls a similarity query.
type QueryOptions struct {
	// TopK limits the number of results.
	TopK int

	// Filter restricts matches by exact metadata equality.
	Filter map[string]any

	// MinScore drops results below this similarity.
	MinScore float32
}

// Provider is the vector store capability handle.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// CreateCollection ensures a collection exists with the given dimension.
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// CollectionExists reports whether a collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Upsert adds or replaces a document with its vector.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Query finds the most similar vectors subject to options.
	Query(ctx context.Context, collection string, vector []float32, opts QueryOptions) ([]Result, error)

	// Delete removes a document by ID.
	Delete(ctx context.Context, collection string, id string) error

	// Close releases provider resources.
	Close() error
}
