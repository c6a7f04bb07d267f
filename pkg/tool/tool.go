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

// Package tool defines the interfaces for tools that agents can invoke.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a capability the orchestrator can execute on the model's behalf.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns what the tool does, for the LLM's benefit.
	Description() string

	// Schema returns the JSON schema for the tool's arguments.
	// Nil means the tool takes no arguments.
	Schema() map[string]any

	// Call executes the tool with validated arguments.
	Call(ctx context.Context, args map[string]any) (*Result, error)
}

// Definition is the tool shape handed to LLM providers.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is one invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its result message.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload.
	Arguments string `json:"arguments"`
}

// ParseArguments decodes the JSON argument payload.
func (c *ToolCall) ParseArguments() (map[string]any, error) {
	if c.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, fmt.Errorf("tool %q received malformed arguments: %w", c.Name, err)
	}
	return args, nil
}

// Result is the output of a tool execution.
type Result struct {
	// Content is the output payload rendered for the model.
	Content string

	// Error is set when the tool failed. A non-empty Error means the
	// execution did not succeed even though no Go error was returned.
	Error string
}

// Succeeded reports whether the execution produced a usable result.
func (r *Result) Succeeded() bool {
	return r != nil && r.Error == ""
}

// Definition renders a tool into the provider-facing shape.
func ToDefinition(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// Func adapts a plain function into a Tool.
type Func struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args map[string]any) (*Result, error)
}

// NewFunc creates a function-backed tool.
func NewFunc(name, description string, schema map[string]any, fn func(ctx context.Context, args map[string]any) (*Result, error)) *Func {
	return &Func{name: name, description: description, schema: schema, fn: fn}
}

func (f *Func) Name() string           { return f.name }
func (f *Func) Description() string    { return f.description }
func (f *Func) Schema() map[string]any { return f.schema }

func (f *Func) Call(ctx context.Context, args map[string]any) (*Result, error) {
	return f.fn(ctx, args)
}

var _ Tool = (*Func)(nil)
