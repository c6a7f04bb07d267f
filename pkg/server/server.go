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

// Package server exposes the orchestrator over HTTP. Turns stream back as
// server-sent events, one JSON chunk per event.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentos-dev/agentos/pkg/config"
	"github.com/agentos-dev/agentos/pkg/observability"
	"github.com/agentos-dev/agentos/pkg/orchestrator"
)

// TurnStarter starts one turn and returns its chunk stream.
type TurnStarter interface {
	OrchestrateTurn(ctx context.Context, input orchestrator.TurnInput) *orchestrator.Stream
}

// Server is the HTTP front end.
type Server struct {
	cfg    config.ServerConfig
	turns  TurnStarter
	obs    *observability.Manager
	server *http.Server
}

// New creates a server. The observability manager may be nil, in which
// case /metrics responds 404.
func New(cfg config.ServerConfig, turns TurnStarter, obs *observability.Manager) (*Server, error) {
	if turns == nil {
		return nil, fmt.Errorf("server requires a turn orchestrator")
	}
	cfg.SetDefaults()

	s := &Server{cfg: cfg, turns: turns, obs: obs}
	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "address", s.cfg.Address())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.ShutdownTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/turns", s.handleTurn)
	if s.obs != nil {
		r.Method(http.MethodGet, "/metrics", s.obs.Handler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTurn decodes a turn request and streams its chunks as SSE. Input
// validation failures still stream: the orchestrator reports them as error
// chunks so the client sees one uniform protocol.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var input orchestrator.TurnInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "streaming unsupported",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	stream := s.turns.OrchestrateTurn(r.Context(), input)
	for chunk := range stream.Chunks() {
		data, err := json.Marshal(chunk)
		if err != nil {
			slog.Error("Failed to marshal chunk", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// requestLogger logs method, path, and duration for every request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
