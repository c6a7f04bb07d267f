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

// Package capability defines the unified capability model.
//
// A capability is anything an agent can call or reference: a tool, a skill,
// an extension, a channel adapter, a voice profile, or a productivity
// integration. Heterogeneous sources (in-process tool registries, file
// manifests, extension catalogs) are normalized into one Descriptor shape so
// the index, graph, and discovery engine can treat them uniformly, while the
// context assembler can still render kind-specific detail.
package capability

import (
	"context"
	"fmt"
	"strings"
)

// Kind discriminates the capability variants.
type Kind string

const (
	KindTool         Kind = "tool"
	KindSkill        Kind = "skill"
	KindExtension    Kind = "extension"
	KindChannel      Kind = "channel"
	KindVoice        Kind = "voice"
	KindProductivity Kind = "productivity"
)

// ParseKind normalizes a string to a Kind. Returns false for unknown values.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTool:
		return KindTool, true
	case KindSkill:
		return KindSkill, true
	case KindExtension:
		return KindExtension, true
	case KindChannel:
		return KindChannel, true
	case KindVoice:
		return KindVoice, true
	case KindProductivity:
		return KindProductivity, true
	default:
		return "", false
	}
}

// SourceRef points back at the origin of a descriptor for lazy reload.
type SourceRef struct {
	// Origin names the source (e.g. "manifest", "tools", "static").
	Origin string

	// Path locates the descriptor within the origin (file path, registry key).
	Path string
}

// Descriptor is the unified shape for all capability kinds.
//
// FullSchema (tools) and FullContent (skills) are Tier-2 payloads: they are
// rendered into full detail context on demand but are never part of the
// embedding text.
type Descriptor struct {
	// ID is globally unique, conventionally "{kind}:{name}".
	ID string

	Kind        Kind
	Name        string
	DisplayName string
	Description string
	Category    string
	Tags        []string

	// RequiredSecrets must be present for the capability to be available.
	RequiredSecrets []string

	// RequiredTools are tool names this capability depends on.
	RequiredTools []string

	// Available is derived at index time from secret and tool presence.
	// It is never persisted independently.
	Available bool

	// HasSideEffects marks capabilities that mutate external state.
	HasSideEffects bool

	// FullSchema is the structured input schema. Tools only.
	FullSchema map[string]any

	// FullContent is long-form documentation. Skills only.
	FullContent string

	SourceRef SourceRef
}

// EffectiveName returns the display name, falling back to the name.
func (d *Descriptor) EffectiveName() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Validate checks descriptor invariants, defaulting the ID to "{kind}:{name}".
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if _, ok := ParseKind(string(d.Kind)); !ok {
		return fmt.Errorf("capability %q has unknown kind %q", d.Name, d.Kind)
	}
	if d.ID == "" {
		d.ID = fmt.Sprintf("%s:%s", d.Kind, d.Name)
	}
	return nil
}

// Source lists capability descriptors from one origin.
type Source interface {
	// Name identifies the source in logs and SourceRefs.
	Name() string

	// List returns all descriptors currently provided by the source.
	List(ctx context.Context) ([]*Descriptor, error)
}

// StaticSource serves a fixed descriptor list. Used for in-process tool
// registries and tests.
type StaticSource struct {
	name        string
	descriptors []*Descriptor
}

// NewStaticSource creates a source over a fixed descriptor list.
func NewStaticSource(name string, descriptors []*Descriptor) *StaticSource {
	return &StaticSource{name: name, descriptors: descriptors}
}

// Name identifies the source.
func (s *StaticSource) Name() string { return s.name }

// List returns the fixed descriptors.
func (s *StaticSource) List(ctx context.Context) ([]*Descriptor, error) {
	return s.descriptors, nil
}

// SecretResolver reports whether a named secret is configured.
// The index uses it to derive availability.
type SecretResolver func(name string) bool

// MapSecretResolver resolves secrets from a static set of configured names.
func MapSecretResolver(present map[string]bool) SecretResolver {
	return func(name string) bool { return present[name] }
}
