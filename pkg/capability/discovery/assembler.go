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

// Package discovery composes the capability index, graph, and tiered
// context assembly behind a single Discover call.
package discovery

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agentos-dev/agentos/pkg/capability"
	"github.com/agentos-dev/agentos/pkg/capability/index"
	"github.com/agentos-dev/agentos/pkg/tokens"
)

// AssemblerConfig holds the tier budgets and retrieval knobs.
type AssemblerConfig struct {
	Tier0TokenBudget  int     `yaml:"tier0_token_budget,omitempty"`
	Tier1TokenBudget  int     `yaml:"tier1_token_budget,omitempty"`
	Tier2TokenBudget  int     `yaml:"tier2_token_budget,omitempty"`
	Tier1TopK         int     `yaml:"tier1_top_k,omitempty"`
	Tier2TopK         int     `yaml:"tier2_top_k,omitempty"`
	Tier1MinRelevance float32 `yaml:"tier1_min_relevance,omitempty"`
	GraphBoostFactor  float64 `yaml:"graph_boost_factor,omitempty"`
}

// SetDefaults applies default values.
func (c *AssemblerConfig) SetDefaults() {
	if c.Tier0TokenBudget == 0 {
		c.Tier0TokenBudget = 200
	}
	if c.Tier1TokenBudget == 0 {
		c.Tier1TokenBudget = 800
	}
	if c.Tier2TokenBudget == 0 {
		c.Tier2TokenBudget = 2000
	}
	if c.Tier1TopK == 0 {
		c.Tier1TopK = 5
	}
	if c.Tier2TopK == 0 {
		c.Tier2TopK = 2
	}
	if c.Tier1MinRelevance == 0 {
		c.Tier1MinRelevance = 0.3
	}
	if c.GraphBoostFactor == 0 {
		c.GraphBoostFactor = 0.15
	}
}

// TierEntry is one capability rendered into a tier.
type TierEntry struct {
	ID      string
	Kind    capability.Kind
	Name    string
	Score   float32
	Boosted bool
	Text    string
	Tokens  int
}

// Result is the assembled discovery payload plus diagnostics.
type Result struct {
	Query string

	// Tier0 is the always-on category summary.
	Tier0 string

	// Tier1 holds short retrieved summaries.
	Tier1 []TierEntry

	// Tier2 holds full detail for the top Tier-1 entries.
	Tier2 []TierEntry

	TotalTokens  int
	IndexVersion uint64

	EmbeddingMs int64
	GraphMs     int64
}

// PromptContext renders the result into the text injected into the prompt.
func (r *Result) PromptContext() string {
	var b strings.Builder
	if r.Tier0 != "" {
		b.WriteString(r.Tier0)
		b.WriteString("\n")
	}
	if len(r.Tier1) > 0 {
		b.WriteString("\nRelevant capabilities:\n")
		for _, e := range r.Tier1 {
			b.WriteString(e.Text)
			b.WriteString("\n")
		}
	}
	for _, e := range r.Tier2 {
		b.WriteString("\n")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// ToolNames returns the deduplicated, insertion-ordered tool names from
// Tier 1 and Tier 2.
func (r *Result) ToolNames() []string {
	var names []string
	seen := make(map[string]bool)
	appendTools := func(entries []TierEntry) {
		for _, e := range entries {
			if e.Kind != capability.KindTool || seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	appendTools(r.Tier1)
	appendTools(r.Tier2)
	return names
}

// BuildTier0 renders the category summary from the full descriptor list:
// categories sorted by member count descending, up to four names each.
func BuildTier0(descriptors []*capability.Descriptor, tokenBudget int) string {
	if len(descriptors) == 0 {
		return ""
	}

	byCategory := make(map[string][]*capability.Descriptor)
	for _, d := range descriptors {
		category := d.Category
		if category == "" {
			category = "general"
		}
		byCategory[category] = append(byCategory[category], d)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.SliceStable(categories, func(i, j int) bool {
		if len(byCategory[categories[i]]) != len(byCategory[categories[j]]) {
			return len(byCategory[categories[i]]) > len(byCategory[categories[j]])
		}
		return categories[i] < categories[j]
	})

	var b strings.Builder
	b.WriteString("Available capability categories:\n")
	for _, category := range categories {
		members := byCategory[category]
		names := make([]string, 0, 4)
		for i, d := range members {
			if i == 4 {
				break
			}
			names = append(names, d.EffectiveName())
		}
		line := fmt.Sprintf("- %s: %s", category, strings.Join(names, ", "))
		if len(members) > 4 {
			line += fmt.Sprintf(" (+%d more)", len(members)-4)
		}
		line += "\n"

		if tokens.Estimate(b.String()+line) > tokenBudget {
			break
		}
		b.WriteString(line)
	}

	return strings.TrimRight(b.String(), "\n")
}

// AssembleTier1 renders up to topK short summaries within the token budget.
// Entries below minRelevance are skipped; accumulation stops before the
// first line that would exceed the budget.
func AssembleTier1(results []index.SearchResult, cfg AssemblerConfig) []TierEntry {
	var entries []TierEntry
	used := 0

	for _, r := range results {
		if len(entries) >= cfg.Tier1TopK {
			break
		}
		if r.Score < cfg.Tier1MinRelevance && !r.Boosted {
			continue
		}

		text := tier1Line(len(entries)+1, r.Descriptor)
		cost := tokens.Estimate(text)
		if used+cost > cfg.Tier1TokenBudget {
			break
		}
		used += cost

		entries = append(entries, TierEntry{
			ID:      r.Descriptor.ID,
			Kind:    r.Descriptor.Kind,
			Name:    r.Descriptor.Name,
			Score:   r.Score,
			Boosted: r.Boosted,
			Text:    text,
			Tokens:  cost,
		})
	}

	return entries
}

func tier1Line(n int, d *capability.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s (%s)", n, d.EffectiveName(), d.Kind)

	if d.Description != "" {
		b.WriteString(". ")
		b.WriteString(truncate(d.Description, 120))
	}
	if d.Kind == capability.KindTool {
		if params := schemaPropertyNames(d.FullSchema); len(params) > 0 {
			fmt.Fprintf(&b, ". Params: %s", strings.Join(params, ", "))
		}
	}
	if len(d.RequiredTools) > 0 {
		fmt.Fprintf(&b, ". Requires: %s", strings.Join(d.RequiredTools, ", "))
	}
	if !d.Available {
		b.WriteString(". [not available]")
	}
	return b.String()
}

// AssembleTier2 renders full detail for the first tier2TopK Tier-1 entries.
// This is a prefix of Tier 1, not a re-ranked set. Stops on budget
// exhaustion.
func AssembleTier2(tier1 []TierEntry, lookup func(id string) (*capability.Descriptor, bool), cfg AssemblerConfig) []TierEntry {
	var entries []TierEntry
	used := 0

	for _, e := range tier1 {
		if len(entries) >= cfg.Tier2TopK {
			break
		}
		d, ok := lookup(e.ID)
		if !ok {
			continue
		}

		text := tier2Detail(d)
		cost := tokens.Estimate(text)
		if used+cost > cfg.Tier2TokenBudget {
			break
		}
		used += cost

		entries = append(entries, TierEntry{
			ID:     d.ID,
			Kind:   d.Kind,
			Name:   d.Name,
			Score:  e.Score,
			Text:   text,
			Tokens: cost,
		})
	}

	return entries
}

func tier2Detail(d *capability.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s)\n", d.EffectiveName(), d.Kind)

	if d.Description != "" {
		b.WriteString(d.Description)
		b.WriteString("\n")
	}

	switch d.Kind {
	case capability.KindTool:
		if len(d.FullSchema) > 0 {
			b.WriteString("Input schema:\n")
			writeSchema(&b, d.FullSchema, 0)
		}
	case capability.KindSkill:
		if d.FullContent != "" {
			b.WriteString(d.FullContent)
			if !strings.HasSuffix(d.FullContent, "\n") {
				b.WriteString("\n")
			}
		}
	}

	if len(d.RequiredSecrets) > 0 {
		fmt.Fprintf(&b, "Required secrets: %s\n", strings.Join(d.RequiredSecrets, ", "))
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(d.Tags, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

// writeSchema formats a JSON-schema shaped map as an indented outline.
func writeSchema(b *strings.Builder, schema map[string]any, depth int) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	required := make(map[string]bool)
	if list, ok := schema["required"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	indent := strings.Repeat("  ", depth)
	for _, name := range names {
		spec, _ := props[name].(map[string]any)
		typ, _ := spec["type"].(string)
		desc, _ := spec["description"].(string)

		fmt.Fprintf(b, "%s- %s", indent, name)
		if typ != "" {
			fmt.Fprintf(b, " (%s)", typ)
		}
		if required[name] {
			b.WriteString(" [required]")
		}
		if desc != "" {
			fmt.Fprintf(b, ": %s", truncate(desc, 80))
		}
		b.WriteString("\n")
	}
}

func schemaPropertyNames(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// truncate shortens s to at most max bytes, cutting on a rune boundary so
// multi-byte characters never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
