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
	"fmt"
	"strings"

	"github.com/agentos-dev/agentos/pkg/memory"
	"github.com/agentos-dev/agentos/pkg/model"
)

// TenancyMode controls organization resolution for incoming turns.
type TenancyMode string

const (
	// TenancySingleTenant substitutes a default organization when the
	// request omits one.
	TenancySingleTenant TenancyMode = "single_tenant"

	// TenancyMultiTenant requires an explicit organization per request.
	TenancyMultiTenant TenancyMode = "multi_tenant"
)

// MemoryControl selects long-term memory behavior for one turn.
type MemoryControl struct {
	// LongTermRecall enables recall before generation.
	LongTermRecall bool `json:"longTermRecall"`

	// Scopes limits which memory dimensions the recall reads.
	Scopes memory.Scopes `json:"scopes,omitempty"`
}

// TurnInput is one user turn submitted for orchestration.
type TurnInput struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
	SessionID      string `json:"sessionId"`

	// ConversationID defaults to SessionID. At most one turn runs per
	// conversation at a time; concurrent arrivals queue.
	ConversationID string `json:"conversationId,omitempty"`

	PersonaID string `json:"personaId,omitempty"`

	// Text is the user message. A turn may carry text, vision inputs, or
	// both.
	Text string `json:"text,omitempty"`

	// VisionInputs are image attachments forwarded to the model provider
	// unmodified.
	VisionInputs []model.VisionInput `json:"visionInputs,omitempty"`

	// UserAPIKeys maps provider name to a caller-supplied API key. Values
	// are opaque: they pass through to the matching provider and are never
	// logged or persisted.
	UserAPIKeys map[string]string `json:"userApiKeys,omitempty"`

	// CustomFlags carries per-request overrides. Unknown keys are ignored.
	CustomFlags map[string]any `json:"customFlags,omitempty"`

	Memory *MemoryControl `json:"memory,omitempty"`
}

func (in *TurnInput) applyDefaults() {
	if in.ConversationID == "" {
		in.ConversationID = in.SessionID
	}
}

// Validate checks required fields.
func (in *TurnInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	if strings.TrimSpace(in.Text) == "" && len(in.VisionInputs) == 0 {
		return fmt.Errorf("text or vision input is required")
	}
	return nil
}

// userMessage projects the turn input into the user message sent to the
// model.
func (in *TurnInput) userMessage() *model.Message {
	if len(in.VisionInputs) > 0 {
		return model.NewUserVisionMessage(in.Text, in.VisionInputs)
	}
	return model.NewUserMessage(in.Text)
}
