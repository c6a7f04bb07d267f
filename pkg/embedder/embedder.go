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

// Package embedder provides text embedding services for semantic search.
package embedder

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings from text.
//
// Embeddings back the capability index and long-term memory.
// Different providers (OpenAI, Ollama) implement this interface.
type Embedder interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vector embeddings.
	// More efficient than calling Embed multiple times.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

// Config selects and configures an embedder implementation.
type Config struct {
	// Type is "openai" or "ollama".
	Type string `yaml:"type"`

	// Model name (defaults per provider).
	Model string `yaml:"model,omitempty"`

	// Host overrides the API base URL.
	Host string `yaml:"host,omitempty"`

	// APIKey for providers that require one.
	APIKey string `yaml:"api_key,omitempty"`

	// Dimension of produced vectors (defaults per model).
	Dimension int `yaml:"dimension,omitempty"`

	// TimeoutSeconds per request (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// MaxRetries per request (default 3).
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// New creates an embedder from configuration.
func New(cfg Config) (Embedder, error) {
	cfg.SetDefaults()

	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedder type: %q", cfg.Type)
	}
}
