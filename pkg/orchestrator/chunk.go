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

package orchestrator

import (
	"sync"

	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/telemetry"
)

// ChunkType discriminates the stream chunk union.
type ChunkType string

const (
	ChunkTextDelta      ChunkType = "text_delta"
	ChunkToolCallStart  ChunkType = "tool_call_start"
	ChunkToolCallEnd    ChunkType = "tool_call_end"
	ChunkFinalResponse  ChunkType = "final_response"
	ChunkMetadataUpdate ChunkType = "metadata_update"
	ChunkError          ChunkType = "error"
	ChunkDone           ChunkType = "done"
)

// ErrorKind is the machine-readable error classification.
type ErrorKind string

const (
	KindValidation      ErrorKind = "VALIDATION"
	KindAuth            ErrorKind = "AUTH"
	KindProvider        ErrorKind = "PROVIDER"
	KindToolExecution   ErrorKind = "TOOL_EXECUTION"
	KindDiscoveryFailed ErrorKind = "DISCOVERY_FAILED"
	KindTimeout         ErrorKind = "TIMEOUT"
	KindCanceled        ErrorKind = "CANCELED"
	KindInternal        ErrorKind = "INTERNAL"
)

// Chunk is one element of the turn's output stream. Exactly one payload
// field matching Type is set.
type Chunk struct {
	Type ChunkType `json:"type"`

	// TextDelta is set for text_delta chunks.
	TextDelta string `json:"text_delta,omitempty"`

	// ToolCall is set for tool_call_start chunks.
	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`

	// ToolResult is set for tool_call_end chunks.
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`

	// FinalResponse is set for final_response chunks. It carries the
	// authoritative final text returned by the generator.
	FinalResponse string `json:"final_response,omitempty"`

	// Metadata is set for metadata_update chunks.
	Metadata *MetadataUpdate `json:"metadata,omitempty"`

	// Error is set for error chunks.
	Error *ErrorEvent `json:"error,omitempty"`
}

// ToolCallEvent announces one tool invocation.
type ToolCallEvent struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Iteration int    `json:"iteration"`
}

// ToolResultEvent reports one tool completion.
type ToolResultEvent struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ErrorEvent is the terminal error payload.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// MetadataUpdate carries one or more metadata keys. Unknown keys are never
// forwarded; each update field is a typed payload.
type MetadataUpdate struct {
	TenantRouting        *TenantRoutingUpdate  `json:"tenantRouting,omitempty"`
	TurnPlanning         *TurnPlanningUpdate   `json:"turnPlanning,omitempty"`
	LongTermMemoryRecall *MemoryRecallUpdate   `json:"longTermMemoryRecall,omitempty"`
	TaskOutcome          *TaskOutcomeUpdate    `json:"taskOutcome,omitempty"`
	TaskOutcomeKpi       *TaskOutcomeKpiUpdate `json:"taskOutcomeKpi,omitempty"`
	TaskOutcomeAlert     *OutcomeAlertUpdate   `json:"taskOutcomeAlert,omitempty"`
}

// TenantRoutingUpdate reports single-tenant organization substitution.
type TenantRoutingUpdate struct {
	Mode                  string `json:"mode"`
	DefaultOrganizationID string `json:"defaultOrganizationId"`
}

// TurnPlanningUpdate reports the resolved plan and adaptive actions.
type TurnPlanningUpdate struct {
	PlannerVersion    string                 `json:"plannerVersion"`
	ToolFailureMode   string                 `json:"toolFailureMode"`
	ToolSelectionMode string                 `json:"toolSelectionMode"`
	SelectedToolNames []string               `json:"selectedToolNames,omitempty"`
	FallbackReason    string                 `json:"fallbackReason,omitempty"`
	AdaptiveExecution *AdaptiveExecutionInfo `json:"adaptiveExecution,omitempty"`
	Diagnostics       planner.Diagnostics    `json:"diagnostics"`
}

// AdaptiveExecutionInfo mirrors the adaptive controller's report.
type AdaptiveExecutionInfo struct {
	Applied                      bool `json:"applied"`
	ForcedToolSelectionMode      bool `json:"forcedToolSelectionMode,omitempty"`
	ForcedToolFailureMode        bool `json:"forcedToolFailureMode,omitempty"`
	PreservedRequestedFailClosed bool `json:"preservedRequestedFailClosed,omitempty"`
}

// MemoryRecallUpdate reports a long-term memory recall.
type MemoryRecallUpdate struct {
	Profile   string `json:"profile"`
	Fragments int    `json:"fragments"`
}

// TaskOutcomeUpdate reports the classified turn outcome.
type TaskOutcomeUpdate struct {
	Status telemetry.Status `json:"status"`
	Score  float64          `json:"score"`
}

// TaskOutcomeKpiUpdate reports the scope's KPI after recording.
type TaskOutcomeKpiUpdate struct {
	ScopeKey            string  `json:"scopeKey"`
	SampleCount         int     `json:"sampleCount"`
	SuccessRate         float64 `json:"successRate"`
	WeightedSuccessRate float64 `json:"weightedSuccessRate"`
}

// OutcomeAlertUpdate reports a degradation alert.
type OutcomeAlertUpdate struct {
	ScopeKey            string  `json:"scopeKey"`
	WeightedSuccessRate float64 `json:"weightedSuccessRate"`
	Threshold           float64 `json:"threshold"`
}

// Stream is the consumer handle for one turn's chunks. The producer signals
// end-of-stream exactly once, on every path including errors, so the
// consumer's termination is deterministic.
type Stream struct {
	id     string
	ch     chan *Chunk
	closed sync.Once
}

func newStream(id string, buffer int) *Stream {
	return &Stream{id: id, ch: make(chan *Chunk, buffer)}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Chunks returns the chunk channel. It is closed after the done chunk.
func (s *Stream) Chunks() <-chan *Chunk { return s.ch }

// send delivers one chunk. Blocks until the consumer drains.
func (s *Stream) send(chunk *Chunk) {
	s.ch <- chunk
}

// finish emits the done chunk and closes the channel, exactly once.
func (s *Stream) finish() {
	s.closed.Do(func() {
		s.ch <- &Chunk{Type: ChunkDone}
		close(s.ch)
	})
}
