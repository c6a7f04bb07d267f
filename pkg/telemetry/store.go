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

package telemetry

import (
	"context"
	"sync"
)

// Store persists outcome windows across restarts.
type Store interface {
	// LoadWindows returns all persisted windows keyed by scope.
	LoadWindows(ctx context.Context) (map[string][]OutcomeEntry, error)

	// SaveWindow atomically overwrites the window for one scope key.
	SaveWindow(ctx context.Context, scopeKey string, entries []OutcomeEntry) error

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps windows in process memory. Useful for tests and
// single-process deployments that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string][]OutcomeEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]OutcomeEntry)}
}

// LoadWindows returns a copy of all windows.
func (s *MemoryStore) LoadWindows(ctx context.Context) (map[string][]OutcomeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]OutcomeEntry, len(s.windows))
	for k, entries := range s.windows {
		copied := make([]OutcomeEntry, len(entries))
		copy(copied, entries)
		out[k] = copied
	}
	return out, nil
}

// SaveWindow overwrites one scope's window.
func (s *MemoryStore) SaveWindow(ctx context.Context, scopeKey string, entries []OutcomeEntry) error {
	copied := make([]OutcomeEntry, len(entries))
	copy(copied, entries)
	s.mu.Lock()
	s.windows[scopeKey] = copied
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
