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

package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchTool() Tool {
	return NewFunc("web-search", "Search the web", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []any{"query"},
	}, func(ctx context.Context, args map[string]any) (*Result, error) {
		return &Result{Content: "results for " + args["query"].(string)}, nil
	})
}

func echoTool() Tool {
	return NewFunc("echo", "Echo input", nil, func(ctx context.Context, args map[string]any) (*Result, error) {
		return &Result{Content: "ok"}, nil
	})
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(searchTool()))

	t.Run("rejects duplicates", func(t *testing.T) {
		assert.Error(t, r.Register(searchTool()))
	})

	t.Run("rejects nil and empty names", func(t *testing.T) {
		assert.Error(t, r.Register(nil))
		assert.Error(t, r.Register(NewFunc("", "x", nil, nil)))
	})

	t.Run("rejects invalid schema", func(t *testing.T) {
		bad := NewFunc("bad", "x", map[string]any{
			"type": 42,
		}, nil)
		assert.Error(t, r.Register(bad))
	})
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(searchTool()))
	require.NoError(t, r.Register(echoTool()))

	t.Run("all tools in registration order", func(t *testing.T) {
		defs := r.Definitions(nil)
		require.Len(t, defs, 2)
		assert.Equal(t, "web-search", defs[0].Name)
		assert.Equal(t, "echo", defs[1].Name)
	})

	t.Run("restricted set ignores unknown names", func(t *testing.T) {
		defs := r.Definitions([]string{"echo", "nonexistent"})
		require.Len(t, defs, 1)
		assert.Equal(t, "echo", defs[0].Name)
	})

	t.Run("empty restriction yields nothing", func(t *testing.T) {
		assert.Empty(t, r.Definitions([]string{}))
	})
}

func TestRegistryValidateArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(searchTool()))
	require.NoError(t, r.Register(echoTool()))

	t.Run("valid arguments pass", func(t *testing.T) {
		assert.NoError(t, r.ValidateArgs("web-search", map[string]any{
			"query": "golang",
			"limit": 3,
		}))
	})

	t.Run("missing required property fails", func(t *testing.T) {
		assert.Error(t, r.ValidateArgs("web-search", map[string]any{
			"limit": 3,
		}))
	})

	t.Run("wrong type fails", func(t *testing.T) {
		assert.Error(t, r.ValidateArgs("web-search", map[string]any{
			"query": 42,
		}))
	})

	t.Run("schemaless tool accepts anything", func(t *testing.T) {
		assert.NoError(t, r.ValidateArgs("echo", map[string]any{"whatever": true}))
	})

	t.Run("unknown tool accepts anything", func(t *testing.T) {
		assert.NoError(t, r.ValidateArgs("nope", nil))
	})
}

func TestToolCallParseArguments(t *testing.T) {
	t.Run("parses json payload", func(t *testing.T) {
		call := &ToolCall{ID: "1", Name: "web-search", Arguments: `{"query":"go"}`}
		args, err := call.ParseArguments()
		require.NoError(t, err)
		assert.Equal(t, "go", args["query"])
	})

	t.Run("empty payload yields empty map", func(t *testing.T) {
		call := &ToolCall{ID: "1", Name: "echo"}
		args, err := call.ParseArguments()
		require.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("malformed payload errors", func(t *testing.T) {
		call := &ToolCall{ID: "1", Name: "echo", Arguments: "{not json"}
		_, err := call.ParseArguments()
		assert.Error(t, err)
	})
}
