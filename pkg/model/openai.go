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

package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/agentos-dev/agentos/pkg/httpclient"
	"github.com/agentos-dev/agentos/pkg/tokens"
	"github.com/agentos-dev/agentos/pkg/tool"
)

// ProviderConfig configures an OpenAI-compatible chat completion client.
// Ollama and most gateways speak the same wire format behind a base URL.
type ProviderConfig struct {
	Provider Provider `yaml:"provider,omitempty"`
	Model    string   `yaml:"model"`
	APIKey   string   `yaml:"api_key,omitempty"`

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base_url,omitempty"`

	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int `yaml:"max_retries,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// SetDefaults applies default values.
func (c *ProviderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderOllama:
			c.BaseURL = "http://localhost:11434/v1"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cfg    ProviderConfig
	client *httpclient.Client

	counterOnce sync.Once
	counter     *tokens.Counter
}

// NewOpenAIClient creates a chat completions client.
func NewOpenAIClient(cfg ProviderConfig) (*OpenAIClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OpenAIClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseRateLimitHeaders),
		),
	}, nil
}

func (c *OpenAIClient) Name() string       { return c.cfg.Model }
func (c *OpenAIClient) Provider() Provider { return c.cfg.Provider }
func (c *OpenAIClient) Close() error       { return nil }

// Wire types for the chat completions API.

// wireMessage is an outbound message. Content is a plain string for text
// messages and a part array when the message carries vision attachments.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireToolDefJSON `json:"function"`
}

type wireToolDefJSON struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type wireResponseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireResponseMessage `json:"message"`
		FinishReason string              `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

type wireStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content,omitempty"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

// GenerateContent sends one chat completion request. With stream enabled it
// yields partial responses followed by the aggregated final one.
func (c *OpenAIClient) GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		wire := c.buildRequest(req, stream)

		resp, err := c.post(ctx, wire, c.requestKey(req))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(nil, readAPIError(resp))
			return
		}

		if !stream {
			c.yieldComplete(resp.Body, yield)
			return
		}
		c.yieldStream(req, resp.Body, yield)
	}
}

func (c *OpenAIClient) buildRequest(req *Request, stream bool) wireRequest {
	wire := wireRequest{
		Model:  c.cfg.Model,
		Stream: stream,
	}

	if req.SystemInstruction != "" {
		wire.Messages = append(wire.Messages, wireMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    messageContent(m),
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		wire.Messages = append(wire.Messages, wm)
	}

	for _, def := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireToolDefJSON{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	if req.Config != nil {
		wire.Temperature = req.Config.Temperature
		wire.MaxTokens = req.Config.MaxTokens
		wire.Stop = req.Config.StopSequences
	}
	if wire.Temperature == nil {
		wire.Temperature = c.cfg.Temperature
	}
	if wire.MaxTokens == nil && c.cfg.MaxTokens > 0 {
		tokens := c.cfg.MaxTokens
		wire.MaxTokens = &tokens
	}
	return wire
}

// messageContent renders a message body: a bare string normally, a part
// array when image attachments are present. Base64 payloads become data
// URLs so both attachment forms travel the same field.
func messageContent(m *Message) any {
	if len(m.Vision) == 0 {
		return m.Content
	}
	parts := make([]wireContentPart, 0, len(m.Vision)+1)
	if m.Content != "" {
		parts = append(parts, wireContentPart{Type: "text", Text: m.Content})
	}
	for _, v := range m.Vision {
		url := v.URL
		if url == "" {
			url = "data:" + v.MimeType + ";base64," + v.Data
		}
		parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: url}})
	}
	return parts
}

// requestKey resolves the API key for one call, preferring a caller-supplied
// key for this client's provider.
func (c *OpenAIClient) requestKey(req *Request) string {
	if key := req.APIKeys[string(c.cfg.Provider)]; key != "" {
		return key
	}
	return c.cfg.APIKey
}

func (c *OpenAIClient) post(ctx context.Context, wire wireRequest, apiKey string) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return c.client.Do(req)
}

func (c *OpenAIClient) yieldComplete(body io.Reader, yield func(*Response, error) bool) {
	var wire wireResponse
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		yield(nil, fmt.Errorf("failed to decode response: %w", err))
		return
	}
	if wire.Error != nil {
		yield(nil, fmt.Errorf("API error: %s", wire.Error.Message))
		return
	}
	if len(wire.Choices) == 0 {
		yield(nil, fmt.Errorf("no response choices returned"))
		return
	}

	choice := wire.Choices[0]
	resp := &Response{
		Text:         choice.Message.Content,
		ToolCalls:    parseWireToolCalls(choice.Message.ToolCalls),
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	resp.TurnComplete = len(resp.ToolCalls) == 0
	if wire.Usage != nil {
		resp.Usage = &Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	yield(resp, nil)
}

// yieldStream parses SSE lines, yielding text deltas as partial responses
// and accumulating tool call fragments by index.
func (c *OpenAIClient) yieldStream(req *Request, body io.Reader, yield func(*Response, error) bool) {
	reader := bufio.NewReader(body)
	agg := &StreamingAggregator{}
	toolCalls := make([]*wireToolCall, 0, 4)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			yield(nil, fmt.Errorf("failed to read stream: %w", err))
			return
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk wireStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			yield(nil, fmt.Errorf("API error: %s", chunk.Error.Message))
			return
		}
		if chunk.Usage != nil {
			agg.Add(&Response{Usage: &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}})
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			partial := &Response{Text: choice.Delta.Content, Partial: true}
			agg.Add(&Response{Text: choice.Delta.Content})
			if !yield(partial, nil) {
				return
			}
		}

		// Tool call fragments arrive with an ID first, then argument
		// pieces for the most recent call.
		for _, delta := range choice.Delta.ToolCalls {
			if delta.ID != "" {
				dc := delta
				toolCalls = append(toolCalls, &dc)
			} else if len(toolCalls) > 0 {
				last := toolCalls[len(toolCalls)-1]
				last.Function.Arguments += delta.Function.Arguments
			}
		}

		if choice.FinishReason != "" {
			agg.Add(&Response{FinishReason: mapFinishReason(choice.FinishReason)})
		}
	}

	if len(toolCalls) > 0 {
		flat := make([]wireToolCall, len(toolCalls))
		for i, tc := range toolCalls {
			flat[i] = *tc
		}
		agg.Add(&Response{ToolCalls: parseWireToolCalls(flat)})
	}

	final := agg.Final()
	if final.Usage == nil {
		final.Usage = c.estimateUsage(req, final.Text)
	}
	yield(final, nil)
}

// tokenCounter lazily builds the model's tokenizer. Nil when the encoding
// cannot be loaded; Counter.Count falls back to the length heuristic then.
func (c *OpenAIClient) tokenCounter() *tokens.Counter {
	c.counterOnce.Do(func() {
		if counter, err := tokens.NewCounter(c.cfg.Model); err == nil {
			c.counter = counter
		}
	})
	return c.counter
}

// estimateUsage approximates token usage when the provider omits it from
// the stream.
func (c *OpenAIClient) estimateUsage(req *Request, completion string) *Usage {
	counter := c.tokenCounter()
	prompt := counter.Count(req.SystemInstruction)
	for _, msg := range req.Messages {
		prompt += counter.Count(msg.Content)
	}
	out := counter.Count(completion)
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}

func parseWireToolCalls(calls []wireToolCall) []tool.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]tool.ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, tool.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}

func mapFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishReasonStop
	case "length":
		return FinishReasonLength
	case "tool_calls":
		return FinishReasonToolCalls
	case "":
		return ""
	default:
		return FinishReasonStop
	}
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var wire struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != nil {
		return fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
			resp.StatusCode, wire.Error.Message, wire.Error.Type, wire.Error.Code)
	}
	return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
}

var _ LLM = (*OpenAIClient)(nil)
