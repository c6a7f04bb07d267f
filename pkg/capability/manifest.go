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

package capability

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	manifestFileName    = "CAPABILITY.yaml"
	manifestFileNameAlt = "CAPABILITY.yml"
	skillContentFile    = "SKILL.md"

	// EnvManifestPath is a path-list environment variable of extra scan
	// roots, separated by the OS path list separator.
	EnvManifestPath = "AGENTOS_CAPABILITY_PATH"
)

// manifestFile is the on-disk shape of a CAPABILITY.yaml entry.
type manifestFile struct {
	Kind            string         `yaml:"kind"`
	Name            string         `yaml:"name"`
	DisplayName     string         `yaml:"display_name,omitempty"`
	Description     string         `yaml:"description,omitempty"`
	Category        string         `yaml:"category,omitempty"`
	Tags            []string       `yaml:"tags,omitempty"`
	RequiredSecrets []string       `yaml:"required_secrets,omitempty"`
	RequiredTools   []string       `yaml:"required_tools,omitempty"`
	HasSideEffects  bool           `yaml:"has_side_effects,omitempty"`
	Schema          map[string]any `yaml:"schema,omitempty"`
}

// ManifestSource scans directory roots for CAPABILITY.yaml entries.
//
// An optional sibling SKILL.md supplies FullContent for skill descriptors.
// Malformed manifests are logged and skipped, never fatal.
type ManifestSource struct {
	roots []string
}

// DefaultManifestRoots returns the standard scan roots: the user-global
// directory, the workspace-local directory, and any roots listed in
// AGENTOS_CAPABILITY_PATH.
func DefaultManifestRoots() []string {
	var roots []string

	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, ".agentos", "capabilities"))
	}
	roots = append(roots, filepath.Join(".agentos", "capabilities"))

	if extra := os.Getenv(EnvManifestPath); extra != "" {
		for _, p := range filepath.SplitList(extra) {
			if p != "" {
				roots = append(roots, p)
			}
		}
	}

	return roots
}

// NewManifestSource creates a manifest source over the given roots.
// Empty roots defaults to DefaultManifestRoots.
func NewManifestSource(roots ...string) *ManifestSource {
	if len(roots) == 0 {
		roots = DefaultManifestRoots()
	}
	return &ManifestSource{roots: roots}
}

// Name identifies the source.
func (s *ManifestSource) Name() string { return "manifest" }

// Roots returns the scan roots.
func (s *ManifestSource) Roots() []string { return s.roots }

// List scans all roots and returns the parsed descriptors.
func (s *ManifestSource) List(ctx context.Context) ([]*Descriptor, error) {
	var descriptors []*Descriptor

	for _, root := range s.roots {
		if _, err := os.Stat(root); err != nil {
			continue // missing roots are fine
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if base != manifestFileName && base != manifestFileNameAlt {
				return nil
			}

			desc, parseErr := parseManifest(path)
			if parseErr != nil {
				slog.Warn("Skipping malformed capability manifest",
					"path", path,
					"error", parseErr)
				return nil
			}
			descriptors = append(descriptors, desc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan manifest root %q: %w", root, err)
		}
	}

	return descriptors, nil
}

// parseManifest reads one CAPABILITY.yaml and its optional SKILL.md sibling.
func parseManifest(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	kind, ok := ParseKind(m.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown capability kind %q", m.Kind)
	}

	desc := &Descriptor{
		Kind:            kind,
		Name:            strings.TrimSpace(m.Name),
		DisplayName:     m.DisplayName,
		Description:     m.Description,
		Category:        m.Category,
		Tags:            m.Tags,
		RequiredSecrets: m.RequiredSecrets,
		RequiredTools:   m.RequiredTools,
		HasSideEffects:  m.HasSideEffects,
		SourceRef:       SourceRef{Origin: "manifest", Path: path},
	}

	if kind == KindTool && len(m.Schema) > 0 {
		desc.FullSchema = m.Schema
	}

	if kind == KindSkill {
		skillPath := filepath.Join(filepath.Dir(path), skillContentFile)
		if content, readErr := os.ReadFile(skillPath); readErr == nil {
			desc.FullContent = string(content)
		}
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return desc, nil
}
