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
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-dev/agentos/pkg/adaptive"
	"github.com/agentos-dev/agentos/pkg/model"
	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/session"
	"github.com/agentos-dev/agentos/pkg/telemetry"
	"github.com/agentos-dev/agentos/pkg/tool"
)

// scriptedTurn is one model invocation: partial deltas followed by the
// aggregated final response.
type scriptedTurn struct {
	deltas    []string
	marker    bool
	finalText string
	toolCalls []tool.ToolCall
	err       error
}

type scriptedLLM struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []*model.Request
}

func (l *scriptedLLM) Name() string             { return "scripted" }
func (l *scriptedLLM) Provider() model.Provider { return model.ProviderUnknown }
func (l *scriptedLLM) Close() error             { return nil }

func (l *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	var turn scriptedTurn
	if len(l.turns) > 0 {
		turn = l.turns[0]
		l.turns = l.turns[1:]
	}
	l.mu.Unlock()

	return func(yield func(*model.Response, error) bool) {
		if turn.err != nil {
			yield(nil, turn.err)
			return
		}
		for _, delta := range turn.deltas {
			if !yield(&model.Response{Text: delta, Partial: true}, nil) {
				return
			}
		}
		if turn.marker {
			if !yield(&model.Response{Text: FinalResponseMarker, Partial: true}, nil) {
				return
			}
		}
		final := &model.Response{
			Text:         turn.finalText,
			ToolCalls:    turn.toolCalls,
			TurnComplete: len(turn.toolCalls) == 0,
		}
		yield(final, nil)
	}
}

var _ model.LLM = (*scriptedLLM)(nil)

type fixture struct {
	llm      *scriptedLLM
	tools    *tool.Registry
	tracker  *telemetry.Tracker
	sessions *session.MemoryService
	orch     *Orchestrator
}

type fixtureOption func(t *testing.T, f *fixture, cfg *Config, deps *Dependencies)

func withAdaptive(a adaptive.Config) fixtureOption {
	return func(t *testing.T, f *fixture, cfg *Config, deps *Dependencies) {
		deps.Adaptive = a
	}
}

func withTracker(tr *telemetry.Tracker) fixtureOption {
	return func(t *testing.T, f *fixture, cfg *Config, deps *Dependencies) {
		deps.Tracker = tr
	}
}

func withConfig(mutate func(*Config)) fixtureOption {
	return func(t *testing.T, f *fixture, cfg *Config, deps *Dependencies) {
		mutate(cfg)
	}
}

func newFixture(t *testing.T, turns []scriptedTurn, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		llm:      &scriptedLLM{turns: turns},
		tools:    tool.NewRegistry(),
		sessions: session.NewMemoryService(0),
	}

	echo := tool.NewFunc("echo", "Echoes input", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}, func(ctx context.Context, args map[string]any) (*tool.Result, error) {
		text, _ := args["text"].(string)
		return &tool.Result{Content: "echo: " + text}, nil
	})
	boom := tool.NewFunc("boom", "Always fails", nil, func(ctx context.Context, args map[string]any) (*tool.Result, error) {
		return nil, fmt.Errorf("simulated tool crash")
	})
	require.NoError(t, f.tools.Register(echo))
	require.NoError(t, f.tools.Register(boom))

	tracker, err := telemetry.NewTracker(telemetry.Config{}, nil, nil)
	require.NoError(t, err)
	f.tracker = tracker

	pl, err := planner.New(planner.Config{AllowRequestOverrides: true}, nil)
	require.NoError(t, err)

	cfg := Config{TurnTimeoutMs: 10000}
	deps := Dependencies{
		LLM:      f.llm,
		Tools:    f.tools,
		Planner:  pl,
		Tracker:  f.tracker,
		Sessions: f.sessions,
	}
	for _, opt := range opts {
		opt(t, f, &cfg, &deps)
	}

	orch, err := New(cfg, deps)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func basicInput() TurnInput {
	return TurnInput{
		UserID:    "u1",
		SessionID: "s1",
		Text:      "hello",
	}
}

// drain collects the whole stream.
func drain(t *testing.T, stream *Stream) []*Chunk {
	t.Helper()
	var chunks []*Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func chunksOfType(chunks []*Chunk, ct ChunkType) []*Chunk {
	var out []*Chunk
	for _, c := range chunks {
		if c.Type == ct {
			out = append(out, c)
		}
	}
	return out
}

func findMetadata(chunks []*Chunk, pick func(*MetadataUpdate) bool) *MetadataUpdate {
	for _, c := range chunks {
		if c.Type == ChunkMetadataUpdate && pick(c.Metadata) {
			return c.Metadata
		}
	}
	return nil
}

func TestTurnStreamsAndFinalizes(t *testing.T) {
	final := "The answer is 42, which follows from the calculation."
	f := newFixture(t, []scriptedTurn{
		{deltas: []string{"The answer is 42, ", "which follows from the calculation."}, marker: true, finalText: final},
	})

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	deltas := chunksOfType(chunks, ChunkTextDelta)
	require.Len(t, deltas, 2)
	assert.Equal(t, "The answer is 42, ", deltas[0].TextDelta)
	assert.Equal(t, "which follows from the calculation.", deltas[1].TextDelta)

	// The marker partial never appears as delta or final text.
	finals := chunksOfType(chunks, ChunkFinalResponse)
	require.Len(t, finals, 1)
	assert.Equal(t, final, finals[0].FinalResponse)

	outcome := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TaskOutcome != nil })
	require.NotNil(t, outcome)
	assert.Equal(t, telemetry.StatusSuccess, outcome.TaskOutcome.Status)
	assert.Equal(t, 1.0, outcome.TaskOutcome.Score)
	require.NotNil(t, outcome.TaskOutcomeKpi)
	assert.Equal(t, 1, outcome.TaskOutcomeKpi.SampleCount)

	last := chunks[len(chunks)-1]
	assert.Equal(t, ChunkDone, last.Type)
}

func TestShortFinalResponseScoresPenalized(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{deltas: []string{"42."}, finalText: "42."},
	})

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	outcome := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TaskOutcome != nil })
	require.NotNil(t, outcome)
	assert.Equal(t, telemetry.StatusSuccess, outcome.TaskOutcome.Status)
	assert.Equal(t, 0.8, outcome.TaskOutcome.Score)
}

func TestTurnExecutesTools(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{toolCalls: []tool.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}}},
		{deltas: []string{"done"}, finalText: "done"},
	})

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	starts := chunksOfType(chunks, ChunkToolCallStart)
	ends := chunksOfType(chunks, ChunkToolCallEnd)
	require.Len(t, starts, 1)
	require.Len(t, ends, 1)
	assert.Equal(t, "echo", starts[0].ToolCall.Name)
	assert.Equal(t, "echo: hi", ends[0].ToolResult.Content)
	assert.Empty(t, ends[0].ToolResult.Error)

	// The tool result reached the second generation round.
	require.Len(t, f.llm.requests, 2)
	second := f.llm.requests[1]
	var sawToolMsg bool
	for _, m := range second.Messages {
		if m.Role == model.RoleTool && m.Content == "echo: hi" {
			sawToolMsg = true
		}
	}
	assert.True(t, sawToolMsg)

	outcome := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TaskOutcome != nil })
	require.NotNil(t, outcome)
	assert.Equal(t, telemetry.StatusSuccess, outcome.TaskOutcome.Status)
}

func TestRequestedFailClosedTerminatesOnToolError(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{toolCalls: []tool.ToolCall{{ID: "c1", Name: "boom"}}},
	})

	input := basicInput()
	input.CustomFlags = map[string]any{"toolFailureMode": "fail_closed"}

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), input))

	errs := chunksOfType(chunks, ChunkError)
	require.Len(t, errs, 1)
	assert.Equal(t, KindToolExecution, errs[0].Error.Kind)
	assert.Empty(t, chunksOfType(chunks, ChunkFinalResponse))
	assert.Equal(t, ChunkDone, chunks[len(chunks)-1].Type)

	// Only one generation round ran.
	assert.Len(t, f.llm.requests, 1)

	kpi := f.tracker.KPI("global")
	assert.Equal(t, 1, kpi.FailedCount)
	entries := f.tracker.Entries("global")
	require.Len(t, entries, 1)
	assert.Equal(t, telemetry.StatusFailed, entries[0].Status)
	assert.Equal(t, 0.0, entries[0].Score)
}

func TestFailOpenFeedsErrorBackToModel(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{toolCalls: []tool.ToolCall{{ID: "c1", Name: "boom"}}},
		{deltas: []string{"recovered"}, finalText: "recovered without the tool"},
	})

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	assert.Empty(t, chunksOfType(chunks, ChunkError))
	ends := chunksOfType(chunks, ChunkToolCallEnd)
	require.Len(t, ends, 1)
	assert.Contains(t, ends[0].ToolResult.Error, "simulated tool crash")

	require.Len(t, f.llm.requests, 2)
	var sawErrFeedback bool
	for _, m := range f.llm.requests[1].Messages {
		if m.Role == model.RoleTool && m.Content == "Error: simulated tool crash" {
			sawErrFeedback = true
		}
	}
	assert.True(t, sawErrFeedback)

	outcome := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TaskOutcome != nil })
	require.NotNil(t, outcome)
	assert.Equal(t, telemetry.StatusPartial, outcome.TaskOutcome.Status)
}

func TestUnknownToolIsValidationUnderFailClosed(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{toolCalls: []tool.ToolCall{{ID: "c1", Name: "nope"}}},
	})

	input := basicInput()
	input.CustomFlags = map[string]any{"tool_failure_mode": "fail-closed"}

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), input))

	errs := chunksOfType(chunks, ChunkError)
	require.Len(t, errs, 1)
	assert.Equal(t, KindValidation, errs[0].Error.Kind)
}

func TestIterationBudgetTruncates(t *testing.T) {
	zero := 0
	f := newFixture(t, []scriptedTurn{
		{toolCalls: []tool.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"x"}`}}},
	}, withConfig(func(c *Config) {
		c.MaxToolCallIterations = &zero
	}))

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	// Budget zero: generation ran once, no tool executed.
	assert.Empty(t, chunksOfType(chunks, ChunkToolCallStart))
	assert.Len(t, f.llm.requests, 1)

	outcome := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TaskOutcome != nil })
	require.NotNil(t, outcome)
	assert.Equal(t, telemetry.StatusPartial, outcome.TaskOutcome.Status)
	assert.Equal(t, ChunkDone, chunks[len(chunks)-1].Type)
}

func TestValidationErrorsTerminateStream(t *testing.T) {
	f := newFixture(t, nil)

	input := basicInput()
	input.UserID = ""

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), input))
	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkError, chunks[0].Type)
	assert.Equal(t, KindValidation, chunks[0].Error.Kind)
	assert.Equal(t, ChunkDone, chunks[1].Type)
}

func TestConversationLockMapShrinksWhenIdle(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{finalText: "first response with enough body to read as a real answer."},
		{finalText: "second response with enough body to read as a real answer."},
	})

	drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	other := basicInput()
	other.SessionID = "s2"
	drain(t, f.orch.OrchestrateTurn(context.Background(), other))

	// Both conversations finished, so no lock entries linger.
	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	assert.Empty(t, f.orch.locks)
}

func TestTurnInputRequiresTextOrVision(t *testing.T) {
	in := TurnInput{UserID: "u1", SessionID: "s1"}
	require.Error(t, in.Validate())

	in.VisionInputs = []model.VisionInput{{URL: "https://example.com/x.png"}}
	require.NoError(t, in.Validate())
}

func TestVisionOnlyInputIsAccepted(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "a tabby cat sitting on a windowsill"}})

	input := basicInput()
	input.Text = ""
	input.VisionInputs = []model.VisionInput{{MimeType: "image/png", Data: "aGk="}}

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), input))
	finals := chunksOfType(chunks, ChunkFinalResponse)
	require.Len(t, finals, 1)

	require.Len(t, f.llm.requests, 1)
	messages := f.llm.requests[0].Messages
	last := messages[len(messages)-1]
	assert.Equal(t, model.RoleUser, last.Role)
	require.Len(t, last.Vision, 1)
	assert.Equal(t, "image/png", last.Vision[0].MimeType)
}

func TestUserAPIKeysReachModelRequest(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "ok"}})

	input := basicInput()
	input.UserAPIKeys = map[string]string{"openai": "sk-user"}

	drain(t, f.orch.OrchestrateTurn(context.Background(), input))

	require.Len(t, f.llm.requests, 1)
	assert.Equal(t, "sk-user", f.llm.requests[0].APIKeys["openai"])
}

func TestSingleTenantRouting(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "ok"}},
		withConfig(func(c *Config) {
			c.DefaultOrganizationID = "acme"
		}))

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	routing := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TenantRouting != nil })
	require.NotNil(t, routing)
	assert.Equal(t, "single_tenant", routing.TenantRouting.Mode)
	assert.Equal(t, "acme", routing.TenantRouting.DefaultOrganizationID)
}

func TestMultiTenantRequiresOrganization(t *testing.T) {
	f := newFixture(t, nil, withConfig(func(c *Config) {
		c.TenancyMode = TenancyMultiTenant
	}))

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))
	errs := chunksOfType(chunks, ChunkError)
	require.Len(t, errs, 1)
	assert.Equal(t, KindAuth, errs[0].Error.Kind)
}

func TestAdaptiveDegradationForcesAllTools(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "ok"}},
		withAdaptive(adaptive.Config{
			Enabled:                   true,
			MinSamples:                3,
			MinWeightedSuccessRate:    0.5,
			ForceAllToolsWhenDegraded: true,
		}))

	for i := 0; i < 3; i++ {
		f.tracker.Record("global", telemetry.OutcomeEntry{Status: telemetry.StatusFailed, Score: 0})
	}

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	planning := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TurnPlanning != nil })
	require.NotNil(t, planning)
	require.NotNil(t, planning.TurnPlanning.AdaptiveExecution)
	assert.True(t, planning.TurnPlanning.AdaptiveExecution.Applied)
	assert.True(t, planning.TurnPlanning.AdaptiveExecution.ForcedToolSelectionMode)
	assert.Equal(t, "all", planning.TurnPlanning.ToolSelectionMode)
}

func TestAdaptivePreservesExplicitFailClosed(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "ok"}},
		withAdaptive(adaptive.Config{
			Enabled:                   true,
			MinSamples:                3,
			MinWeightedSuccessRate:    0.5,
			ForceFailOpenWhenDegraded: true,
		}))

	for i := 0; i < 3; i++ {
		f.tracker.Record("global", telemetry.OutcomeEntry{Status: telemetry.StatusFailed, Score: 0})
	}

	input := basicInput()
	input.CustomFlags = map[string]any{"toolFailureMode": "fail_closed"}

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), input))

	planning := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TurnPlanning != nil })
	require.NotNil(t, planning)
	assert.Equal(t, "fail_closed", planning.TurnPlanning.ToolFailureMode)
	require.NotNil(t, planning.TurnPlanning.AdaptiveExecution)
	assert.True(t, planning.TurnPlanning.AdaptiveExecution.PreservedRequestedFailClosed)
	assert.False(t, planning.TurnPlanning.AdaptiveExecution.ForcedToolFailureMode)
}

func TestPersistedWindowsDegradeFirstTurnAfterRestart(t *testing.T) {
	store := telemetry.NewMemoryStore()
	entries := make([]telemetry.OutcomeEntry, 5)
	for i := range entries {
		entries[i] = telemetry.OutcomeEntry{
			Status:    telemetry.StatusFailed,
			Timestamp: time.Now().Add(-time.Minute),
		}
	}
	require.NoError(t, store.SaveWindow(context.Background(), "global", entries))

	tracker, err := telemetry.NewTracker(telemetry.Config{}, store, nil)
	require.NoError(t, err)
	require.NoError(t, tracker.Load(context.Background()))

	f := newFixture(t, []scriptedTurn{{finalText: "ok"}},
		withTracker(tracker),
		withAdaptive(adaptive.Config{
			Enabled:                   true,
			MinSamples:                5,
			MinWeightedSuccessRate:    0.5,
			ForceAllToolsWhenDegraded: true,
		}))

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	planning := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TurnPlanning != nil })
	require.NotNil(t, planning)
	require.NotNil(t, planning.TurnPlanning.AdaptiveExecution)
	assert.True(t, planning.TurnPlanning.AdaptiveExecution.Applied)
}

func TestOutcomeOverrideFlagsWin(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{deltas: []string{"looks fine"}, finalText: "looks fine but the user disagrees with this answer entirely"},
	})

	input := basicInput()
	input.CustomFlags = map[string]any{
		"taskOutcome":      "failed",
		"taskOutcomeScore": 0.1,
	}

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), input))

	outcome := findMetadata(chunks, func(m *MetadataUpdate) bool { return m.TaskOutcome != nil })
	require.NotNil(t, outcome)
	assert.Equal(t, telemetry.StatusFailed, outcome.TaskOutcome.Status)
	assert.Equal(t, 0.1, outcome.TaskOutcome.Score)
}

func TestProviderErrorFailsTurn(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{err: fmt.Errorf("upstream unavailable")}})

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	errs := chunksOfType(chunks, ChunkError)
	require.Len(t, errs, 1)
	assert.Equal(t, KindProvider, errs[0].Error.Kind)

	entries := f.tracker.Entries("global")
	require.Len(t, entries, 1)
	assert.Equal(t, telemetry.StatusFailed, entries[0].Status)
}

func TestCanceledContextEmitsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFixture(t, []scriptedTurn{{err: context.Canceled}})

	chunks := drain(t, f.orch.OrchestrateTurn(ctx, basicInput()))
	errs := chunksOfType(chunks, ChunkError)
	require.Len(t, errs, 1)
	assert.Equal(t, KindCanceled, errs[0].Error.Kind)
}

func TestConversationTurnsSerialize(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "first"}, {finalText: "second"}})

	first := f.orch.OrchestrateTurn(context.Background(), basicInput())
	firstChunks := drain(t, first)
	second := f.orch.OrchestrateTurn(context.Background(), basicInput())
	secondChunks := drain(t, second)

	assert.Equal(t, ChunkDone, firstChunks[len(firstChunks)-1].Type)
	assert.Equal(t, ChunkDone, secondChunks[len(secondChunks)-1].Type)

	// Both turns landed in the same conversation history, in order.
	history, err := f.sessions.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "first", history[1].Content)
	assert.Equal(t, "second", history[3].Content)
}

func TestSessionHistoryFlowsIntoRequests(t *testing.T) {
	f := newFixture(t, []scriptedTurn{{finalText: "a"}, {finalText: "b"}})

	drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))
	drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	require.Len(t, f.llm.requests, 2)
	// Second turn sees the first turn's user and assistant messages.
	second := f.llm.requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, model.RoleUser, second.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, second.Messages[1].Role)
	assert.Equal(t, "a", second.Messages[1].Content)
}

func TestParallelToolCallsAllComplete(t *testing.T) {
	f := newFixture(t, []scriptedTurn{
		{toolCalls: []tool.ToolCall{
			{ID: "c1", Name: "echo", Arguments: `{"text":"one"}`},
			{ID: "c2", Name: "echo", Arguments: `{"text":"two"}`},
			{ID: "c3", Name: "echo", Arguments: `{"text":"three"}`},
		}},
		{finalText: "done"},
	})

	chunks := drain(t, f.orch.OrchestrateTurn(context.Background(), basicInput()))

	assert.Len(t, chunksOfType(chunks, ChunkToolCallStart), 3)
	ends := chunksOfType(chunks, ChunkToolCallEnd)
	require.Len(t, ends, 3)

	// Every start precedes the first end.
	var lastStart, firstEnd int
	firstEnd = len(chunks)
	for i, c := range chunks {
		if c.Type == ChunkToolCallStart {
			lastStart = i
		}
		if c.Type == ChunkToolCallEnd && i < firstEnd {
			firstEnd = i
		}
	}
	assert.Less(t, lastStart, firstEnd)
}
