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

// Package model defines the LLM provider interface.
//
// Key design principles:
//   - Single GenerateContent method handles both streaming and non-streaming
//   - Returns iter.Seq2 which yields one or more Response objects
//   - For non-streaming: yields exactly one Response
//   - For streaming: yields partial Responses (Partial=true), then the final
//     aggregated Response (Partial=false) carrying the authoritative text
package model

import (
	"context"
	"iter"

	"github.com/agentos-dev/agentos/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type (e.g., "openai", "anthropic").
	Provider() Provider

	// GenerateContent produces responses for the given request.
	//
	// When stream=false:
	//   - Yields exactly one Response with complete content
	//
	// When stream=true:
	//   - Yields multiple partial Responses with Partial=true
	//   - Finally yields the aggregated Response with Partial=false; its
	//     text is the authoritative final response of the call
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderUnknown   Provider = "unknown"
)

// Role identifies a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// VisionInput is an opaque image attachment. Exactly one of URL or Data
// (base64-encoded bytes) carries the payload; providers forward it without
// inspecting the content.
type VisionInput struct {
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Vision carries image attachments alongside Content on user messages.
	Vision []VisionInput `json:"vision,omitempty"`

	// ToolCalls carries assistant-requested invocations.
	ToolCalls []tool.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result message to its originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName names the tool that produced a tool result message.
	ToolName string `json:"tool_name,omitempty"`
}

// NewUserMessage creates a user text message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewUserVisionMessage creates a user message with image attachments.
func NewUserVisionMessage(content string, vision []VisionInput) *Message {
	return &Message{Role: RoleUser, Content: content, Vision: vision}
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewToolResultMessage creates a tool result message for the given call.
func NewToolResultMessage(callID, toolName, content string) *Message {
	return &Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// Request contains the input for an LLM call.
type Request struct {
	// Messages is the conversation history.
	Messages []*Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string

	// APIKeys maps provider name to a caller-supplied API key. A key
	// matching the client's provider overrides the configured one for
	// this request; values pass through untouched and are never logged.
	APIKeys map[string]string
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// TopP controls nucleus sampling.
	TopP *float64

	// StopSequences terminates generation.
	StopSequences []string

	// Metadata contains additional key-value pairs for providers.
	Metadata map[string]string
}

// Clone creates a deep copy of the GenerateConfig.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		temp := *c.Temperature
		clone.Temperature = &temp
	}
	if c.MaxTokens != nil {
		maxTok := *c.MaxTokens
		clone.MaxTokens = &maxTok
	}
	if c.TopP != nil {
		topP := *c.TopP
		clone.TopP = &topP
	}
	if c.StopSequences != nil {
		clone.StopSequences = make([]string, len(c.StopSequences))
		copy(clone.StopSequences, c.StopSequences)
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Response contains the result of an LLM call.
type Response struct {
	// Text is this chunk's delta when Partial, or the full aggregated text
	// on the final response.
	Text string

	// Partial indicates whether this is a streaming chunk (true) or the
	// final response (false).
	Partial bool

	// TurnComplete indicates whether the model has finished its turn.
	TurnComplete bool

	// ToolCalls requested by the model.
	ToolCalls []tool.ToolCall

	// Usage statistics. Typically present only on the final response.
	Usage *Usage

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason

	// ErrorCode and ErrorMessage carry provider-specific errors.
	ErrorCode    string
	ErrorMessage string
}

// HasToolCalls returns whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToMessage converts a final response into an assistant message.
func (r *Response) ToMessage() *Message {
	if r == nil {
		return nil
	}
	return &Message{Role: RoleAssistant, Content: r.Text, ToolCalls: r.ToolCalls}
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// StreamingAggregator accumulates partial responses into the final one.
//
// Providers yield deltas through Add and finish with Final. The aggregated
// text is the concatenation of all deltas unless the provider's terminal
// payload supplies the full text via SetText.
type StreamingAggregator struct {
	text      string
	toolCalls []tool.ToolCall
	usage     *Usage
	finish    FinishReason
}

// Add accumulates one partial response.
func (a *StreamingAggregator) Add(r *Response) {
	a.text += r.Text
	a.toolCalls = append(a.toolCalls, r.ToolCalls...)
	if r.Usage != nil {
		a.usage = r.Usage
	}
	if r.FinishReason != "" {
		a.finish = r.FinishReason
	}
}

// SetText overrides the aggregated text with provider-supplied final text.
func (a *StreamingAggregator) SetText(text string) {
	a.text = text
}

// Final builds the aggregated terminal response.
func (a *StreamingAggregator) Final() *Response {
	finish := a.finish
	if finish == "" {
		if len(a.toolCalls) > 0 {
			finish = FinishReasonToolCalls
		} else {
			finish = FinishReasonStop
		}
	}
	return &Response{
		Text:         a.text,
		Partial:      false,
		TurnComplete: len(a.toolCalls) == 0,
		ToolCalls:    a.toolCalls,
		Usage:        a.usage,
		FinishReason: finish,
	}
}
