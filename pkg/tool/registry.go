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
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds the tool catalog and validates call arguments against each
// tool's schema. Schemas are compiled once on registration.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	var compiled *jsonschema.Schema
	if schema := t.Schema(); schema != nil {
		var err error
		compiled, err = compileSchema(name, schema)
		if err != nil {
			return fmt.Errorf("tool %q has an invalid schema: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	if compiled != nil {
		r.schemas[name] = compiled
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Definitions returns provider-facing definitions, optionally restricted to
// the given names. Unknown names are ignored.
func (r *Registry) Definitions(only []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.order
	if only != nil {
		allowed := make(map[string]bool, len(only))
		for _, n := range only {
			allowed[n] = true
		}
		names = make([]string, 0, len(only))
		for _, n := range r.order {
			if allowed[n] {
				names = append(names, n)
			}
		}
	}

	defs := make([]Definition, 0, len(names))
	for _, n := range names {
		defs = append(defs, ToDefinition(r.tools[n]))
	}
	return defs
}

// ValidateArgs checks arguments against the named tool's compiled schema.
// Tools without a schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	if err := schema.Validate(normalizeForValidation(args)); err != nil {
		return fmt.Errorf("arguments for tool %q failed validation: %w", name, err)
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("tool://%s/schema.json", name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, normalizeForValidation(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeForValidation converts nested values into the shapes the schema
// validator expects (json-decoded generics).
func normalizeForValidation(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForValidation(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForValidation(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

// Sorted returns tool names sorted alphabetically. Used for stable logs.
func (r *Registry) Sorted() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
