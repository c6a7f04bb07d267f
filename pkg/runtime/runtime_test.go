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

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/config"
	"github.com/agentos-dev/agentos/pkg/embedder"
	"github.com/agentos-dev/agentos/pkg/model"
	"github.com/agentos-dev/agentos/pkg/tool"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Model:    model.ProviderConfig{Model: "test-model"},
		Embedder: embedder.Config{Type: "ollama"},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewBuildsComponentGraph(t *testing.T) {
	r, err := New(testConfig(t))
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r.Tools())
	assert.NotNil(t, r.Observability())
	assert.Nil(t, r.Orchestrator(), "orchestrator exists only after Start")
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestStartWiresOrchestrator(t *testing.T) {
	r, err := New(testConfig(t))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Start(context.Background()))
	assert.NotNil(t, r.Orchestrator())
}

func TestToolDescriptorsProjectRegistry(t *testing.T) {
	registry := tool.NewRegistry()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	}
	echo := tool.NewFunc("echo", "Echoes input text", schema,
		func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{Content: "ok"}, nil
		})
	require.NoError(t, registry.Register(echo))

	descriptors := toolDescriptors(registry)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "tool:echo", descriptors[0].ID)
	assert.Equal(t, capability.KindTool, descriptors[0].Kind)
	assert.Equal(t, "Echoes input text", descriptors[0].Description)
	assert.Equal(t, schema, descriptors[0].FullSchema)
}

func TestCapabilitySourcesIncludeManifestRoots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capabilities.ManifestRoots = []string{t.TempDir()}

	r, err := New(cfg)
	require.NoError(t, err)
	defer r.Close()

	sources := r.capabilitySources()
	require.Len(t, sources, 1)
	assert.Equal(t, "manifest", sources[0].Name())
}
