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

// Package orchestrator runs one user turn end to end: plan, generate,
// execute tools, finalize, record the outcome. Output is a closed union of
// stream chunks terminated by exactly one done chunk on every path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentos-dev/agentos/pkg/adaptive"
	"github.com/agentos-dev/agentos/pkg/memory"
	"github.com/agentos-dev/agentos/pkg/model"
	"github.com/agentos-dev/agentos/pkg/observability"
	"github.com/agentos-dev/agentos/pkg/planner"
	"github.com/agentos-dev/agentos/pkg/session"
	"github.com/agentos-dev/agentos/pkg/telemetry"
	"github.com/agentos-dev/agentos/pkg/tool"
)

// FinalResponseMarker is a status sentinel some providers emit as the last
// partial of a stream. It is never surfaced as delta or final text; the
// authoritative final text is the generator's aggregated return value.
const FinalResponseMarker = "Turn processing sequence complete."

// Config configures turn orchestration.
type Config struct {
	// MaxToolCallIterations bounds tool execution rounds per turn. Nil
	// means 5. Zero allows generation but no tool execution; a turn cut
	// short by the budget finalizes as a partial outcome.
	MaxToolCallIterations *int `yaml:"max_tool_call_iterations,omitempty"`

	// TurnTimeoutMs bounds the whole turn. Expiry is a failed outcome.
	TurnTimeoutMs int `yaml:"turn_timeout_ms,omitempty"`

	TenancyMode           TenancyMode `yaml:"tenancy_mode,omitempty"`
	DefaultOrganizationID string      `yaml:"default_organization_id,omitempty"`

	// RecallMinPriorTurns gates long-term recall on conversation depth.
	RecallMinPriorTurns int `yaml:"recall_min_prior_turns,omitempty"`

	StreamBufferSize int `yaml:"stream_buffer_size,omitempty"`

	// SystemPrompt is the base instruction prepended to every turn.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Personas maps persona IDs to persona-specific instructions.
	Personas map[string]string `yaml:"personas,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxToolCallIterations == nil {
		n := 5
		c.MaxToolCallIterations = &n
	}
	if c.TurnTimeoutMs == 0 {
		c.TurnTimeoutMs = 120000
	}
	if c.TenancyMode == "" {
		c.TenancyMode = TenancySingleTenant
	}
	if c.DefaultOrganizationID == "" {
		c.DefaultOrganizationID = "default"
	}
	if c.RecallMinPriorTurns == 0 {
		c.RecallMinPriorTurns = 1
	}
	if c.StreamBufferSize == 0 {
		c.StreamBufferSize = 64
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if *c.MaxToolCallIterations < 0 {
		return fmt.Errorf("max_tool_call_iterations must not be negative")
	}
	switch c.TenancyMode {
	case TenancySingleTenant, TenancyMultiTenant:
	default:
		return fmt.Errorf("unsupported tenancy mode: %s", c.TenancyMode)
	}
	return nil
}

// Dependencies are the collaborating services. LLM and Planner are
// required; the rest degrade gracefully when nil.
type Dependencies struct {
	LLM      model.LLM
	Tools    *tool.Registry
	Planner  *planner.Planner
	Adaptive adaptive.Config
	Tracker  *telemetry.Tracker
	Sessions session.Service
	Memory   memory.Retriever
	Metrics  observability.Recorder
}

// Orchestrator coordinates one turn at a time per conversation.
type Orchestrator struct {
	cfg  Config
	deps Dependencies

	mu    sync.Mutex
	locks map[string]*conversationLock
}

// conversationLock serializes turns within one conversation. The refcount
// tracks waiters so the map entry can be dropped once nobody holds or wants
// the lock.
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an orchestrator.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("orchestrator requires an LLM")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("orchestrator requires a planner")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopRecorder{}
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		locks: make(map[string]*conversationLock),
	}, nil
}

// OrchestrateTurn starts one turn and returns its chunk stream. The stream
// always terminates with a done chunk, including on validation errors and
// cancellation. Turns on the same conversation serialize; later arrivals
// wait for the active turn.
func (o *Orchestrator) OrchestrateTurn(ctx context.Context, input TurnInput) *Stream {
	input.applyDefaults()
	stream := newStream(uuid.NewString(), o.cfg.StreamBufferSize)

	go func() {
		defer stream.finish()
		o.runTurn(ctx, stream, input)
	}()

	return stream
}

// turnState carries per-turn context through the state machine.
type turnState struct {
	input    TurnInput
	orgID    string
	scopeKey string
	flags    planner.Flags
	plan     *planner.TurnPlan
	started  time.Time

	finalText string
	truncated bool
	recovered bool
}

func (o *Orchestrator) runTurn(ctx context.Context, stream *Stream, input TurnInput) {
	if err := input.Validate(); err != nil {
		stream.send(&Chunk{Type: ChunkError, Error: &ErrorEvent{Kind: KindValidation, Message: err.Error()}})
		return
	}

	st := &turnState{input: input, orgID: input.OrganizationID, started: time.Now()}

	routed := false
	if st.orgID == "" {
		if o.cfg.TenancyMode == TenancyMultiTenant {
			stream.send(&Chunk{Type: ChunkError, Error: &ErrorEvent{Kind: KindAuth, Message: "organizationId is required"}})
			return
		}
		st.orgID = o.cfg.DefaultOrganizationID
		routed = true
	}

	// One turn per conversation; later arrivals block here.
	unlock := o.lockConversation(input.ConversationID)
	defer unlock()

	if o.cfg.TurnTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.TurnTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	if routed {
		stream.send(&Chunk{Type: ChunkMetadataUpdate, Metadata: &MetadataUpdate{
			TenantRouting: &TenantRoutingUpdate{
				Mode:                  string(o.cfg.TenancyMode),
				DefaultOrganizationID: st.orgID,
			},
		}})
	}

	st.flags, _ = planner.ParseFlags(input.CustomFlags)
	if o.deps.Tracker != nil {
		trackerCfg := o.deps.Tracker.Config()
		st.scopeKey = trackerCfg.ScopeKey(input.UserID, st.orgID)
	}

	plan, err := o.deps.Planner.Plan(ctx, planner.Input{Query: input.Text, CustomFlags: input.CustomFlags})
	if err != nil {
		kind := KindInternal
		if errors.Is(err, planner.ErrDiscoveryFailed) {
			kind = KindDiscoveryFailed
		}
		o.failTurn(ctx, stream, st, kind, err)
		return
	}
	st.plan = plan
	if plan.Diagnostics.DiscoveryAttempted {
		o.deps.Metrics.RecordDiscovery(ctx,
			time.Duration(plan.Diagnostics.PlanningLatencyMs)*time.Millisecond,
			plan.Diagnostics.DiscoveryAttempts,
			plan.Diagnostics.UsedFallback)
	}

	if o.deps.Tracker != nil {
		adaptive.Apply(plan, o.deps.Tracker.KPI(st.scopeKey), o.deps.Adaptive)
	} else {
		adaptive.Apply(plan, telemetry.KpiWindow{}, o.deps.Adaptive)
	}
	stream.send(&Chunk{Type: ChunkMetadataUpdate, Metadata: &MetadataUpdate{
		TurnPlanning: planningUpdate(plan),
	}})

	recall := o.recall(ctx, stream, input, st.orgID)

	if err := o.generateLoop(ctx, stream, st, recall); err != nil {
		return
	}

	o.finalize(ctx, stream, st)
}

// generateLoop runs GENERATE and TOOL_EXEC until the model stops calling
// tools or the iteration budget runs out. A non-nil error means the turn
// already terminated through failTurn.
func (o *Orchestrator) generateLoop(ctx context.Context, stream *Stream, st *turnState, recall *memory.Recall) error {
	var history []*model.Message
	if o.deps.Sessions != nil {
		var err error
		history, err = o.deps.Sessions.History(ctx, st.input.ConversationID)
		if err != nil {
			slog.Warn("Failed to load conversation history", "conversation", st.input.ConversationID, "error", err)
		}
	}

	defs := o.toolDefinitions(st.plan)
	system := o.systemPrompt(st.input.PersonaID, st.plan, recall)
	messages := append(history, st.input.userMessage())
	budget := *o.cfg.MaxToolCallIterations

	for iteration := 0; ; iteration++ {
		req := &model.Request{
			Messages:          messages,
			Tools:             defs,
			SystemInstruction: system,
			APIKeys:           st.input.UserAPIKeys,
		}

		genStart := time.Now()
		final, err := o.generate(ctx, stream, req)
		if err != nil {
			o.failTurn(ctx, stream, st, classifyGenerateError(ctx, err), err)
			return err
		}
		if final.Usage != nil {
			o.deps.Metrics.RecordModelCall(ctx, o.deps.LLM.Name(), time.Since(genStart), final.Usage.PromptTokens, final.Usage.CompletionTokens)
		} else {
			o.deps.Metrics.RecordModelCall(ctx, o.deps.LLM.Name(), time.Since(genStart), 0, 0)
		}
		st.finalText = final.Text

		if !final.HasToolCalls() {
			return nil
		}
		if iteration >= budget {
			st.truncated = true
			return nil
		}

		messages = append(messages, final.ToMessage())

		results, recovered, failure := o.executeTools(ctx, stream, st.plan, final.ToolCalls, iteration)
		if failure != nil {
			o.failTurn(ctx, stream, st, failure.kind, failure.err)
			return failure.err
		}
		if recovered {
			st.recovered = true
		}
		messages = append(messages, results...)
	}
}

// generate consumes one model stream, forwarding text deltas. The marker
// partial is swallowed; the aggregated final response is returned.
func (o *Orchestrator) generate(ctx context.Context, stream *Stream, req *model.Request) (*model.Response, error) {
	var final *model.Response
	for resp, err := range o.deps.LLM.GenerateContent(ctx, req, true) {
		if err != nil {
			return nil, err
		}
		if resp.Partial {
			if resp.Text != "" && resp.Text != FinalResponseMarker {
				stream.send(&Chunk{Type: ChunkTextDelta, TextDelta: resp.Text})
			}
			continue
		}
		final = resp
	}
	if final == nil {
		return nil, fmt.Errorf("model stream ended without a final response")
	}
	if final.FinishReason == model.FinishReasonError {
		return nil, fmt.Errorf("model error %s: %s", final.ErrorCode, final.ErrorMessage)
	}
	return final, nil
}

type toolFailure struct {
	kind ErrorKind
	err  error
}

type toolOutcome struct {
	call       tool.ToolCall
	content    string
	err        error
	validation bool
	durationMs int64
}

// executeTools validates and runs one round of tool calls in parallel.
// Under fail_open, errors become tool result messages for the model to
// recover from; under fail_closed, the first error terminates the turn.
func (o *Orchestrator) executeTools(ctx context.Context, stream *Stream, plan *planner.TurnPlan, calls []tool.ToolCall, iteration int) ([]*model.Message, bool, *toolFailure) {
	outcomes := make([]*toolOutcome, len(calls))

	for i, call := range calls {
		outcomes[i] = &toolOutcome{call: call}
		stream.send(&Chunk{Type: ChunkToolCallStart, ToolCall: &ToolCallEvent{
			CallID:    call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
			Iteration: iteration,
		}})
	}

	var g errgroup.Group
	for _, oc := range outcomes {
		g.Go(func() error {
			start := time.Now()
			oc.content, oc.validation, oc.err = o.runTool(ctx, oc.call)
			oc.durationMs = time.Since(start).Milliseconds()
			return nil
		})
	}
	_ = g.Wait()

	recovered := false
	var messages []*model.Message

	for _, oc := range outcomes {
		event := &ToolResultEvent{
			CallID:     oc.call.ID,
			Name:       oc.call.Name,
			Content:    oc.content,
			DurationMs: oc.durationMs,
		}
		if oc.err != nil {
			event.Error = oc.err.Error()
		}
		stream.send(&Chunk{Type: ChunkToolCallEnd, ToolResult: event})
		o.deps.Metrics.RecordToolExecution(ctx, oc.call.Name, time.Duration(oc.durationMs)*time.Millisecond, oc.err != nil)

		if oc.err == nil {
			messages = append(messages, model.NewToolResultMessage(oc.call.ID, oc.call.Name, oc.content))
			continue
		}

		if plan.Policy.ToolFailureMode == planner.FailClosed {
			kind := KindToolExecution
			if oc.validation {
				kind = KindValidation
			}
			return nil, false, &toolFailure{kind: kind, err: fmt.Errorf("tool %s failed: %w", oc.call.Name, oc.err)}
		}

		// fail_open: surface the error to the model as a tool result.
		recovered = true
		messages = append(messages, model.NewToolResultMessage(oc.call.ID, oc.call.Name, "Error: "+oc.err.Error()))
	}

	return messages, recovered, nil
}

// runTool resolves, validates, and invokes one tool call. validation marks
// errors raised before the tool ran.
func (o *Orchestrator) runTool(ctx context.Context, call tool.ToolCall) (content string, validation bool, err error) {
	if o.deps.Tools == nil {
		return "", true, fmt.Errorf("no tool registry configured")
	}
	t, ok := o.deps.Tools.Get(call.Name)
	if !ok {
		return "", true, fmt.Errorf("unknown tool: %s", call.Name)
	}

	args, err := call.ParseArguments()
	if err != nil {
		return "", true, fmt.Errorf("malformed arguments: %w", err)
	}
	if err := o.deps.Tools.ValidateArgs(call.Name, args); err != nil {
		return "", true, fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := t.Call(ctx, args)
	if err != nil {
		return "", false, err
	}
	if result == nil {
		return "", false, nil
	}
	if result.Error != "" {
		return result.Content, false, errors.New(result.Error)
	}
	return result.Content, false, nil
}

// recall fetches long-term memory when the conversation is deep enough and
// the request enables it. Recall failures degrade to no recall.
func (o *Orchestrator) recall(ctx context.Context, stream *Stream, input TurnInput, orgID string) *memory.Recall {
	if o.deps.Memory == nil || input.Memory == nil || !input.Memory.LongTermRecall {
		return nil
	}
	if o.deps.Sessions != nil {
		turns, err := o.deps.Sessions.TurnCount(ctx, input.ConversationID)
		if err != nil || turns < o.cfg.RecallMinPriorTurns {
			return nil
		}
	}

	recall, err := o.deps.Memory.Retrieve(ctx, memory.Query{
		Text:           input.Text,
		UserID:         input.UserID,
		PersonaID:      input.PersonaID,
		OrganizationID: orgID,
		Scopes:         input.Memory.Scopes,
	})
	if err != nil {
		slog.Warn("Long-term memory recall failed", "error", err)
		return nil
	}
	if recall == nil {
		return nil
	}

	stream.send(&Chunk{Type: ChunkMetadataUpdate, Metadata: &MetadataUpdate{
		LongTermMemoryRecall: &MemoryRecallUpdate{
			Profile:   recall.Profile,
			Fragments: recall.Fragments,
		},
	}})
	return recall
}

// finalize classifies the outcome, persists history, and emits the final
// response followed by outcome metadata.
func (o *Orchestrator) finalize(ctx context.Context, stream *Stream, st *turnState) {
	if st.finalText == FinalResponseMarker {
		st.finalText = ""
	}

	status := telemetry.StatusSuccess
	if st.truncated || st.recovered {
		status = telemetry.StatusPartial
	}
	if st.flags.TaskOutcome != "" {
		status = st.flags.TaskOutcome
	}
	score := telemetry.DeriveScore(status, len(st.finalText), st.truncated)
	if st.flags.TaskOutcomeScore != nil {
		score = *st.flags.TaskOutcomeScore
	}

	if o.deps.Sessions != nil {
		err := o.deps.Sessions.Append(ctx, st.input.ConversationID,
			st.input.userMessage(),
			model.NewAssistantMessage(st.finalText))
		if err != nil {
			slog.Warn("Failed to persist conversation turn", "conversation", st.input.ConversationID, "error", err)
		}
	}

	stream.send(&Chunk{Type: ChunkFinalResponse, FinalResponse: st.finalText})
	o.deps.Metrics.RecordTurn(ctx, string(status), score, time.Since(st.started))

	update := &MetadataUpdate{
		TaskOutcome: &TaskOutcomeUpdate{Status: status, Score: score},
	}
	if o.deps.Tracker != nil {
		kpi, alert := o.deps.Tracker.Record(st.scopeKey, telemetry.OutcomeEntry{Status: status, Score: score})
		update.TaskOutcomeKpi = &TaskOutcomeKpiUpdate{
			ScopeKey:            kpi.ScopeKey,
			SampleCount:         kpi.SampleCount,
			SuccessRate:         kpi.SuccessRate,
			WeightedSuccessRate: kpi.WeightedSuccessRate,
		}
		if alert != nil {
			update.TaskOutcomeAlert = &OutcomeAlertUpdate{
				ScopeKey:            alert.ScopeKey,
				WeightedSuccessRate: alert.WeightedSuccessRate,
				Threshold:           alert.Threshold,
			}
		}
	}
	stream.send(&Chunk{Type: ChunkMetadataUpdate, Metadata: update})
}

// failTurn emits a terminal error chunk and records a failed outcome.
// Explicit outcome overrides from request flags still win.
func (o *Orchestrator) failTurn(ctx context.Context, stream *Stream, st *turnState, kind ErrorKind, err error) {
	stream.send(&Chunk{Type: ChunkError, Error: &ErrorEvent{Kind: kind, Message: err.Error()}})
	o.deps.Metrics.RecordTurnError(ctx, string(kind))

	if o.deps.Tracker == nil || st.scopeKey == "" {
		return
	}
	status := telemetry.StatusFailed
	if st.flags.TaskOutcome != "" {
		status = st.flags.TaskOutcome
	}
	score := 0.0
	if status != telemetry.StatusFailed {
		score = telemetry.DeriveScore(status, len(st.finalText), st.truncated)
	}
	if st.flags.TaskOutcomeScore != nil {
		score = *st.flags.TaskOutcomeScore
	}
	o.deps.Tracker.Record(st.scopeKey, telemetry.OutcomeEntry{Status: status, Score: score})
}

// toolDefinitions resolves the tool catalog exposed to the model.
func (o *Orchestrator) toolDefinitions(plan *planner.TurnPlan) []tool.Definition {
	if o.deps.Tools == nil {
		return nil
	}
	if plan.Policy.ToolSelectionMode == planner.SelectDiscovered && len(plan.Capability.SelectedToolNames) > 0 {
		return o.deps.Tools.Definitions(plan.Capability.SelectedToolNames)
	}
	return o.deps.Tools.Definitions(nil)
}

// systemPrompt assembles base instruction, persona, discovery context, and
// recalled memory.
func (o *Orchestrator) systemPrompt(personaID string, plan *planner.TurnPlan, recall *memory.Recall) string {
	var sections []string
	if o.cfg.SystemPrompt != "" {
		sections = append(sections, o.cfg.SystemPrompt)
	}
	if persona, ok := o.cfg.Personas[personaID]; ok && persona != "" {
		sections = append(sections, persona)
	}
	if plan.Capability.PromptContext != "" {
		sections = append(sections, plan.Capability.PromptContext)
	}
	if recall != nil && recall.Context != "" {
		sections = append(sections, "Relevant memory:\n"+recall.Context)
	}
	return strings.Join(sections, "\n\n")
}

func (o *Orchestrator) lockConversation(conversationID string) func() {
	o.mu.Lock()
	lock, ok := o.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		o.locks[conversationID] = lock
	}
	lock.refs++
	o.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		o.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(o.locks, conversationID)
		}
		o.mu.Unlock()
	}
}

func planningUpdate(plan *planner.TurnPlan) *TurnPlanningUpdate {
	update := &TurnPlanningUpdate{
		PlannerVersion:    plan.Policy.PlannerVersion,
		ToolFailureMode:   string(plan.Policy.ToolFailureMode),
		ToolSelectionMode: string(plan.Policy.ToolSelectionMode),
		SelectedToolNames: plan.Capability.SelectedToolNames,
		FallbackReason:    plan.Capability.FallbackReason,
		Diagnostics:       plan.Diagnostics,
	}
	if report := plan.Diagnostics.AdaptiveExecution; report != nil {
		update.AdaptiveExecution = &AdaptiveExecutionInfo{
			Applied:                      report.Applied,
			ForcedToolSelectionMode:      report.ForcedToolSelectionMode,
			ForcedToolFailureMode:        report.ForcedToolFailureMode,
			PreservedRequestedFailClosed: report.PreservedRequestedFailClosed,
		}
	}
	return update
}

// classifyGenerateError maps a generation failure to an error kind.
func classifyGenerateError(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return KindCanceled
	default:
		return KindProvider
	}
}
