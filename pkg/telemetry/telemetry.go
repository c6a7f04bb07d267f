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

// Package telemetry keeps a bounded rolling history of turn outcomes per
// scope, exposes derived KPIs, emits alerts, and persists windows.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

// Status classifies one turn outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// ParseStatus normalizes a string to a Status. Returns false for unknown
// values.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusSuccess:
		return StatusSuccess, true
	case StatusPartial:
		return StatusPartial, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// OutcomeEntry is one recorded turn outcome.
type OutcomeEntry struct {
	Status    Status    `json:"status"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// KpiWindow is the derived view over one scope's ring.
type KpiWindow struct {
	ScopeKey            string
	SampleCount         int
	SuccessCount        int
	PartialCount        int
	FailedCount         int
	SuccessRate         float64
	WeightedSuccessRate float64
	LastAlertAt         *time.Time
}

// Alert fires when a scope's weighted success rate drops below threshold.
type Alert struct {
	ScopeKey            string
	WeightedSuccessRate float64
	SampleCount         int
	Threshold           float64
	FiredAt             time.Time
}

// ScopeMode selects the aggregation dimension for outcome windows.
type ScopeMode string

const (
	ScopeGlobal  ScopeMode = "global"
	ScopePerUser ScopeMode = "per_user"
	ScopePerOrg  ScopeMode = "per_org"
	ScopeUserOrg ScopeMode = "user_org"
)

// Config configures the outcome tracker.
type Config struct {
	ScopeMode         ScopeMode `yaml:"scope_mode,omitempty"`
	RollingWindowSize int       `yaml:"rolling_window_size,omitempty"`

	// DecayAlpha is the per-step exponential decay applied to older
	// samples when computing the weighted success rate. With the default
	// window of 20 and alpha 0.9 the newest sample weighs roughly twice
	// the median-age sample (0.9^-10 ≈ 2.87).
	DecayAlpha float64 `yaml:"decay_alpha,omitempty"`

	AlertMinSamples               int     `yaml:"alert_min_samples,omitempty"`
	AlertBelowWeightedSuccessRate float64 `yaml:"alert_below_weighted_success_rate,omitempty"`
	AlertCooldownMs               int     `yaml:"alert_cooldown_ms,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.ScopeMode == "" {
		c.ScopeMode = ScopeGlobal
	}
	if c.RollingWindowSize == 0 {
		c.RollingWindowSize = 20
	}
	if c.DecayAlpha == 0 {
		c.DecayAlpha = 0.9
	}
	if c.AlertMinSamples == 0 {
		c.AlertMinSamples = 5
	}
	if c.AlertBelowWeightedSuccessRate == 0 {
		c.AlertBelowWeightedSuccessRate = 0.5
	}
	if c.AlertCooldownMs == 0 {
		c.AlertCooldownMs = 60000
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.ScopeMode {
	case ScopeGlobal, ScopePerUser, ScopePerOrg, ScopeUserOrg:
	default:
		return fmt.Errorf("unsupported scope mode: %s", c.ScopeMode)
	}
	if c.DecayAlpha <= 0 || c.DecayAlpha > 1 {
		return fmt.Errorf("decay alpha must be in (0, 1], got %v", c.DecayAlpha)
	}
	return nil
}

// ScopeKey derives the window key for a turn per the configured mode.
func (c *Config) ScopeKey(userID, organizationID string) string {
	switch c.ScopeMode {
	case ScopePerUser:
		return "user:" + userID
	case ScopePerOrg:
		return "org:" + organizationID
	case ScopeUserOrg:
		return "org:" + organizationID + "/user:" + userID
	default:
		return "global"
	}
}

// scopeWindow is one scope's ring plus its own lock. The ring is a slice
// bounded at the window size; append drops the oldest entry.
type scopeWindow struct {
	mu          sync.Mutex
	entries     []OutcomeEntry
	lastAlertAt time.Time
}

// Tracker records outcomes and serves KPI snapshots.
type Tracker struct {
	cfg   Config
	store Store

	mu      sync.Mutex
	windows map[string]*scopeWindow

	// onAlert is invoked outside any window lock.
	onAlert func(Alert)
}

// NewTracker creates an outcome tracker. store and onAlert may be nil.
func NewTracker(cfg Config, store Store, onAlert func(Alert)) (*Tracker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:     cfg,
		store:   store,
		windows: make(map[string]*scopeWindow),
		onAlert: onAlert,
	}, nil
}

// Config returns the tracker configuration in effect.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Load replays persisted windows from the store. Called once on startup.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	windows, err := t.store.LoadWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load outcome windows: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for scopeKey, entries := range windows {
		if len(entries) > t.cfg.RollingWindowSize {
			entries = entries[len(entries)-t.cfg.RollingWindowSize:]
		}
		t.windows[scopeKey] = &scopeWindow{entries: entries}
	}

	slog.Info("Loaded outcome telemetry windows", "scopes", len(windows))
	return nil
}

// Record appends one outcome to the scope's ring and returns the updated
// KPI plus an alert when the degradation threshold fires. Persistence is
// fire-and-forget and never blocks the caller.
func (t *Tracker) Record(scopeKey string, entry OutcomeEntry) (KpiWindow, *Alert) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	w := t.window(scopeKey)

	w.mu.Lock()
	w.entries = append(w.entries, entry)
	if len(w.entries) > t.cfg.RollingWindowSize {
		w.entries = w.entries[len(w.entries)-t.cfg.RollingWindowSize:]
	}
	snapshot := make([]OutcomeEntry, len(w.entries))
	copy(snapshot, w.entries)

	kpi := t.computeKPI(scopeKey, snapshot, w.lastAlertAt)

	var alert *Alert
	if t.shouldAlert(kpi, w.lastAlertAt, entry.Timestamp) {
		w.lastAlertAt = entry.Timestamp
		kpi.LastAlertAt = &w.lastAlertAt
		alert = &Alert{
			ScopeKey:            scopeKey,
			WeightedSuccessRate: kpi.WeightedSuccessRate,
			SampleCount:         kpi.SampleCount,
			Threshold:           t.cfg.AlertBelowWeightedSuccessRate,
			FiredAt:             entry.Timestamp,
		}
	}
	w.mu.Unlock()

	if t.store != nil {
		go t.persist(scopeKey, snapshot)
	}
	if alert != nil && t.onAlert != nil {
		t.onAlert(*alert)
	}

	return kpi, alert
}

// KPI returns the derived view for a scope without mutating it.
func (t *Tracker) KPI(scopeKey string) KpiWindow {
	w := t.window(scopeKey)

	w.mu.Lock()
	snapshot := make([]OutcomeEntry, len(w.entries))
	copy(snapshot, w.entries)
	lastAlert := w.lastAlertAt
	w.mu.Unlock()

	return t.computeKPI(scopeKey, snapshot, lastAlert)
}

// Entries returns a copy of the scope's current ring.
func (t *Tracker) Entries(scopeKey string) []OutcomeEntry {
	w := t.window(scopeKey)
	w.mu.Lock()
	defer w.mu.Unlock()
	snapshot := make([]OutcomeEntry, len(w.entries))
	copy(snapshot, w.entries)
	return snapshot
}

// Close flushes nothing (writes are synchronous snapshots) and closes the
// store when present.
func (t *Tracker) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

func (t *Tracker) window(scopeKey string) *scopeWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[scopeKey]
	if !ok {
		w = &scopeWindow{}
		t.windows[scopeKey] = w
	}
	return w
}

func (t *Tracker) computeKPI(scopeKey string, entries []OutcomeEntry, lastAlert time.Time) KpiWindow {
	kpi := KpiWindow{ScopeKey: scopeKey, SampleCount: len(entries)}
	if !lastAlert.IsZero() {
		at := lastAlert
		kpi.LastAlertAt = &at
	}
	if len(entries) == 0 {
		return kpi
	}

	var weightedSum, weightTotal float64
	n := len(entries)
	for i, e := range entries {
		switch e.Status {
		case StatusSuccess:
			kpi.SuccessCount++
		case StatusPartial:
			kpi.PartialCount++
		case StatusFailed:
			kpi.FailedCount++
		}
		weight := math.Pow(t.cfg.DecayAlpha, float64(n-1-i))
		weightedSum += e.Score * weight
		weightTotal += weight
	}

	kpi.SuccessRate = float64(kpi.SuccessCount) / float64(n)
	kpi.WeightedSuccessRate = weightedSum / weightTotal
	return kpi
}

func (t *Tracker) shouldAlert(kpi KpiWindow, lastAlert time.Time, now time.Time) bool {
	if kpi.SampleCount < t.cfg.AlertMinSamples {
		return false
	}
	if kpi.WeightedSuccessRate >= t.cfg.AlertBelowWeightedSuccessRate {
		return false
	}
	cooldown := time.Duration(t.cfg.AlertCooldownMs) * time.Millisecond
	return lastAlert.IsZero() || now.Sub(lastAlert) >= cooldown
}

func (t *Tracker) persist(scopeKey string, entries []OutcomeEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.store.SaveWindow(ctx, scopeKey, entries); err != nil {
		slog.Warn("Failed to persist outcome window", "scope", scopeKey, "error", err)
	}
}

// DeriveScore maps a status and the final response length onto the outcome
// score. Success sits at 1.0 with a penalty outside the normal response
// band; partial sits mid-range, lower when the turn was truncated.
func DeriveScore(status Status, responseLength int, truncated bool) float64 {
	switch status {
	case StatusSuccess:
		if responseLength < 40 || responseLength > 4000 {
			return 0.8
		}
		return 1.0
	case StatusPartial:
		if truncated {
			return 0.35
		}
		return 0.5
	default:
		return 0.0
	}
}

// ClampScore bounds an explicit caller-supplied score override.
func ClampScore(score float64) float64 {
	return math.Max(0, math.Min(1, score))
}
