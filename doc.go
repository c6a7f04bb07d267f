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

// Package agentos is a turn orchestration core for LLM-backed assistants.
//
// A turn takes one user message through capability discovery, planning,
// model generation, and tool execution, and streams the result back as a
// typed chunk sequence. Outcome telemetry feeds an adaptive controller
// that degrades the planning strategy when recent turns go badly.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/agentos-dev/agentos/cmd/agentos@latest
//
// Create a configuration:
//
//	model:
//	  model: gpt-4o-mini
//	  api_key: ${OPENAI_API_KEY}
//	capabilities:
//	  manifest_roots:
//	    - ./capabilities
//
// Start serving turns:
//
//	agentos serve --config agentos.yaml
//
// # Using as a Go Library
//
// The composition root builds everything from one config:
//
//	cfg, _ := config.Load("agentos.yaml")
//	rt, _ := runtime.New(cfg)
//	_ = rt.Start(ctx)
//	stream := rt.Orchestrator().OrchestrateTurn(ctx, input)
//
// Individual packages compose freely as well: pkg/capability holds the
// index and discovery engine, pkg/planner the turn planner, pkg/telemetry
// the outcome windows, pkg/orchestrator the turn loop.
package agentos
