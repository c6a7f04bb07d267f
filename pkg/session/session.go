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

// Package session holds per-conversation message history.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentos-dev/agentos/pkg/model"
)

// Service stores and retrieves conversation history.
type Service interface {
	// History returns the conversation's messages in order.
	History(ctx context.Context, conversationID string) ([]*model.Message, error)

	// Append adds messages to the conversation.
	Append(ctx context.Context, conversationID string, messages ...*model.Message) error

	// TurnCount returns the number of completed user turns.
	TurnCount(ctx context.Context, conversationID string) (int, error)

	// Close releases resources.
	Close() error
}

type conversation struct {
	messages  []*model.Message
	turnCount int
	updatedAt time.Time
}

// MemoryService keeps conversations in process memory, bounded per
// conversation.
type MemoryService struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	maxMessages   int
}

// NewMemoryService creates an in-memory session service. maxMessages
// bounds each conversation's retained history (0 means 200).
func NewMemoryService(maxMessages int) *MemoryService {
	if maxMessages <= 0 {
		maxMessages = 200
	}
	return &MemoryService{
		conversations: make(map[string]*conversation),
		maxMessages:   maxMessages,
	}
}

// History returns a copy of the conversation's messages.
func (s *MemoryService) History(ctx context.Context, conversationID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]*model.Message, len(conv.messages))
	copy(out, conv.messages)
	return out, nil
}

// Append adds messages, trimming the oldest past the bound.
func (s *MemoryService) Append(ctx context.Context, conversationID string, messages ...*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &conversation{}
		s.conversations[conversationID] = conv
	}

	for _, m := range messages {
		if m.Role == model.RoleUser {
			conv.turnCount++
		}
	}

	conv.messages = append(conv.messages, messages...)
	if len(conv.messages) > s.maxMessages {
		conv.messages = conv.messages[len(conv.messages)-s.maxMessages:]
	}
	conv.updatedAt = time.Now()
	return nil
}

// TurnCount returns the number of user turns seen so far.
func (s *MemoryService) TurnCount(ctx context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	return conv.turnCount, nil
}

// Close is a no-op.
func (s *MemoryService) Close() error { return nil }

var _ Service = (*MemoryService)(nil)
