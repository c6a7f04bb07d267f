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

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records turn orchestration metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	// RecordTurn records one completed turn with its outcome status and
	// score.
	RecordTurn(ctx context.Context, status string, score float64, duration time.Duration)

	// RecordTurnError records a terminal turn error by kind.
	RecordTurnError(ctx context.Context, kind string)

	// RecordToolExecution records one tool invocation.
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, failed bool)

	// RecordDiscovery records one capability discovery call.
	RecordDiscovery(ctx context.Context, duration time.Duration, attempts int, failed bool)

	// RecordModelCall records one model generation round.
	RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int)
}

// meterRecorder is the Prometheus-backed recorder.
type meterRecorder struct {
	turnDuration  metric.Float64Histogram
	turnsTotal    metric.Int64Counter
	turnErrors    metric.Int64Counter
	outcomeScore  metric.Float64Histogram
	toolDuration  metric.Float64Histogram
	toolsTotal    metric.Int64Counter
	toolErrors    metric.Int64Counter
	discoveryTime metric.Float64Histogram
	discoveryTry  metric.Int64Counter
	modelDuration metric.Float64Histogram
	modelInTok    metric.Int64Counter
	modelOutTok   metric.Int64Counter
}

func newMeterRecorder(meter metric.Meter) (*meterRecorder, error) {
	r := &meterRecorder{}
	var err error

	if r.turnDuration, err = meter.Float64Histogram(
		"agentos_turn_duration_seconds",
		metric.WithDescription("Turn duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}
	if r.turnsTotal, err = meter.Int64Counter(
		"agentos_turns_total",
		metric.WithDescription("Completed turns by outcome status")); err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}
	if r.turnErrors, err = meter.Int64Counter(
		"agentos_turn_errors_total",
		metric.WithDescription("Terminal turn errors by kind")); err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}
	if r.outcomeScore, err = meter.Float64Histogram(
		"agentos_outcome_score",
		metric.WithDescription("Turn outcome scores")); err != nil {
		return nil, fmt.Errorf("failed to create outcome score histogram: %w", err)
	}
	if r.toolDuration, err = meter.Float64Histogram(
		"agentos_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if r.toolsTotal, err = meter.Int64Counter(
		"agentos_tool_executions_total",
		metric.WithDescription("Tool executions")); err != nil {
		return nil, fmt.Errorf("failed to create tool executions counter: %w", err)
	}
	if r.toolErrors, err = meter.Int64Counter(
		"agentos_tool_errors_total",
		metric.WithDescription("Tool execution errors")); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}
	if r.discoveryTime, err = meter.Float64Histogram(
		"agentos_discovery_duration_seconds",
		metric.WithDescription("Capability discovery duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create discovery duration histogram: %w", err)
	}
	if r.discoveryTry, err = meter.Int64Counter(
		"agentos_discovery_attempts_total",
		metric.WithDescription("Capability discovery attempts")); err != nil {
		return nil, fmt.Errorf("failed to create discovery attempts counter: %w", err)
	}
	if r.modelDuration, err = meter.Float64Histogram(
		"agentos_model_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create model duration histogram: %w", err)
	}
	if r.modelInTok, err = meter.Int64Counter(
		"agentos_model_tokens_input_total",
		metric.WithDescription("Input tokens sent to the model")); err != nil {
		return nil, fmt.Errorf("failed to create input tokens counter: %w", err)
	}
	if r.modelOutTok, err = meter.Int64Counter(
		"agentos_model_tokens_output_total",
		metric.WithDescription("Output tokens from the model")); err != nil {
		return nil, fmt.Errorf("failed to create output tokens counter: %w", err)
	}

	return r, nil
}

func (r *meterRecorder) RecordTurn(ctx context.Context, status string, score float64, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	r.turnDuration.Record(ctx, duration.Seconds())
	r.turnsTotal.Add(ctx, 1, attrs)
	r.outcomeScore.Record(ctx, score, attrs)
}

func (r *meterRecorder) RecordTurnError(ctx context.Context, kind string) {
	r.turnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (r *meterRecorder) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	r.toolDuration.Record(ctx, duration.Seconds(), attrs)
	r.toolsTotal.Add(ctx, 1, attrs)
	if failed {
		r.toolErrors.Add(ctx, 1, attrs)
	}
}

func (r *meterRecorder) RecordDiscovery(ctx context.Context, duration time.Duration, attempts int, failed bool) {
	r.discoveryTime.Record(ctx, duration.Seconds())
	r.discoveryTry.Add(ctx, int64(attempts), metric.WithAttributes(attribute.Bool("failed", failed)))
}

func (r *meterRecorder) RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	r.modelDuration.Record(ctx, duration.Seconds(), attrs)
	if inputTokens > 0 {
		r.modelInTok.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		r.modelOutTok.Add(ctx, int64(outputTokens), attrs)
	}
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordTurn(_ context.Context, _ string, _ float64, _ time.Duration)       {}
func (NoopRecorder) RecordTurnError(_ context.Context, _ string)                              {}
func (NoopRecorder) RecordToolExecution(_ context.Context, _ string, _ time.Duration, _ bool) {}
func (NoopRecorder) RecordDiscovery(_ context.Context, _ time.Duration, _ int, _ bool)        {}
func (NoopRecorder) RecordModelCall(_ context.Context, _ string, _ time.Duration, _, _ int)   {}

var (
	_ Recorder = (*meterRecorder)(nil)
	_ Recorder = NoopRecorder{}
)
