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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	tracker, err := NewTracker(cfg, nil, nil)
	require.NoError(t, err)
	return tracker
}

func entry(status Status, score float64) OutcomeEntry {
	return OutcomeEntry{Status: status, Score: score, Timestamp: time.Now()}
}

func TestTrackerRecord(t *testing.T) {
	t.Run("ring never exceeds window size", func(t *testing.T) {
		tracker := newTracker(t, Config{RollingWindowSize: 3})
		for i := 0; i < 10; i++ {
			tracker.Record("global", entry(StatusSuccess, 1.0))
		}
		assert.Len(t, tracker.Entries("global"), 3)
	})

	t.Run("entries in non-decreasing timestamp order", func(t *testing.T) {
		tracker := newTracker(t, Config{})
		for i := 0; i < 5; i++ {
			tracker.Record("global", entry(StatusSuccess, 1.0))
		}
		entries := tracker.Entries("global")
		for i := 1; i < len(entries); i++ {
			assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
		}
	})

	t.Run("counts per status", func(t *testing.T) {
		tracker := newTracker(t, Config{})
		tracker.Record("global", entry(StatusSuccess, 1.0))
		tracker.Record("global", entry(StatusPartial, 0.5))
		tracker.Record("global", entry(StatusFailed, 0.0))

		kpi := tracker.KPI("global")
		assert.Equal(t, 3, kpi.SampleCount)
		assert.Equal(t, 1, kpi.SuccessCount)
		assert.Equal(t, 1, kpi.PartialCount)
		assert.Equal(t, 1, kpi.FailedCount)
		assert.InDelta(t, 1.0/3.0, kpi.SuccessRate, 1e-9)
	})

	t.Run("scopes are independent", func(t *testing.T) {
		tracker := newTracker(t, Config{})
		tracker.Record("user:a", entry(StatusFailed, 0.0))
		tracker.Record("user:b", entry(StatusSuccess, 1.0))

		assert.Equal(t, 1, tracker.KPI("user:a").FailedCount)
		assert.Equal(t, 0, tracker.KPI("user:b").FailedCount)
	})
}

func TestWeightedSuccessRate(t *testing.T) {
	t.Run("uniform scores yield that score", func(t *testing.T) {
		tracker := newTracker(t, Config{})
		for i := 0; i < 5; i++ {
			tracker.Record("global", entry(StatusSuccess, 1.0))
		}
		assert.InDelta(t, 1.0, tracker.KPI("global").WeightedSuccessRate, 1e-9)
	})

	t.Run("newer samples weigh more", func(t *testing.T) {
		recovering := newTracker(t, Config{})
		recovering.Record("global", entry(StatusFailed, 0.0))
		recovering.Record("global", entry(StatusSuccess, 1.0))

		degrading := newTracker(t, Config{})
		degrading.Record("global", entry(StatusSuccess, 1.0))
		degrading.Record("global", entry(StatusFailed, 0.0))

		up := recovering.KPI("global").WeightedSuccessRate
		down := degrading.KPI("global").WeightedSuccessRate
		assert.Greater(t, up, 0.5)
		assert.Less(t, down, 0.5)
		assert.InDelta(t, 1.0, up+down, 1e-9, "decay weights are symmetric")
	})

	t.Run("alpha 0.9 over two samples", func(t *testing.T) {
		tracker := newTracker(t, Config{DecayAlpha: 0.9})
		tracker.Record("global", entry(StatusFailed, 0.0))
		tracker.Record("global", entry(StatusSuccess, 1.0))

		// weights: oldest 0.9, newest 1.0 → 1.0/1.9
		assert.InDelta(t, 1.0/1.9, tracker.KPI("global").WeightedSuccessRate, 1e-9)
	})

	t.Run("empty scope", func(t *testing.T) {
		tracker := newTracker(t, Config{})
		kpi := tracker.KPI("global")
		assert.Zero(t, kpi.SampleCount)
		assert.Zero(t, kpi.WeightedSuccessRate)
	})
}

func TestAlerts(t *testing.T) {
	base := Config{
		AlertMinSamples:               3,
		AlertBelowWeightedSuccessRate: 0.5,
		AlertCooldownMs:               60000,
	}

	t.Run("fires when degraded past min samples", func(t *testing.T) {
		var fired []Alert
		tracker, err := NewTracker(base, nil, func(a Alert) { fired = append(fired, a) })
		require.NoError(t, err)

		tracker.Record("global", entry(StatusFailed, 0.0))
		tracker.Record("global", entry(StatusFailed, 0.0))
		_, alert := tracker.Record("global", entry(StatusFailed, 0.0))

		require.NotNil(t, alert)
		assert.Equal(t, "global", alert.ScopeKey)
		assert.Less(t, alert.WeightedSuccessRate, 0.5)
		require.Len(t, fired, 1)
	})

	t.Run("does not fire below min samples", func(t *testing.T) {
		tracker := newTracker(t, base)
		_, alert := tracker.Record("global", entry(StatusFailed, 0.0))
		assert.Nil(t, alert)
		_, alert = tracker.Record("global", entry(StatusFailed, 0.0))
		assert.Nil(t, alert)
	})

	t.Run("does not fire when healthy", func(t *testing.T) {
		tracker := newTracker(t, base)
		for i := 0; i < 5; i++ {
			_, alert := tracker.Record("global", entry(StatusSuccess, 1.0))
			assert.Nil(t, alert)
		}
	})

	t.Run("cooldown suppresses repeat alerts", func(t *testing.T) {
		tracker := newTracker(t, base)
		var alerts int
		for i := 0; i < 6; i++ {
			if _, alert := tracker.Record("global", entry(StatusFailed, 0.0)); alert != nil {
				alerts++
			}
		}
		assert.Equal(t, 1, alerts, "entries land within one cooldown period")
	})
}

func TestScopeKey(t *testing.T) {
	cases := []struct {
		mode ScopeMode
		want string
	}{
		{ScopeGlobal, "global"},
		{ScopePerUser, "user:u1"},
		{ScopePerOrg, "org:o1"},
		{ScopeUserOrg, "org:o1/user:u1"},
	}
	for _, tc := range cases {
		cfg := Config{ScopeMode: tc.mode}
		cfg.SetDefaults()
		assert.Equal(t, tc.want, cfg.ScopeKey("u1", "o1"))
	}
}

func TestTrackerPersistence(t *testing.T) {
	t.Run("load replays persisted windows", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.SaveWindow(context.Background(), "global", []OutcomeEntry{
			entry(StatusFailed, 0.0),
			entry(StatusFailed, 0.0),
			entry(StatusFailed, 0.0),
		}))

		tracker, err := NewTracker(Config{}, store, nil)
		require.NoError(t, err)
		require.NoError(t, tracker.Load(context.Background()))

		kpi := tracker.KPI("global")
		assert.Equal(t, 3, kpi.SampleCount)
		assert.Equal(t, 3, kpi.FailedCount)
		assert.Zero(t, kpi.WeightedSuccessRate)
	})

	t.Run("load truncates oversized windows", func(t *testing.T) {
		store := NewMemoryStore()
		var entries []OutcomeEntry
		for i := 0; i < 30; i++ {
			entries = append(entries, entry(StatusSuccess, 1.0))
		}
		require.NoError(t, store.SaveWindow(context.Background(), "global", entries))

		tracker, err := NewTracker(Config{RollingWindowSize: 20}, store, nil)
		require.NoError(t, err)
		require.NoError(t, tracker.Load(context.Background()))
		assert.Equal(t, 20, tracker.KPI("global").SampleCount)
	})

	t.Run("record persists fire-and-forget", func(t *testing.T) {
		store := NewMemoryStore()
		tracker, err := NewTracker(Config{}, store, nil)
		require.NoError(t, err)

		tracker.Record("global", entry(StatusSuccess, 1.0))

		require.Eventually(t, func() bool {
			windows, loadErr := store.LoadWindows(context.Background())
			return loadErr == nil && len(windows["global"]) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("save then load round-trips", func(t *testing.T) {
		store := NewMemoryStore()
		in := []OutcomeEntry{entry(StatusPartial, 0.5)}
		require.NoError(t, store.SaveWindow(context.Background(), "global", in))

		windows, err := store.LoadWindows(context.Background())
		require.NoError(t, err)
		require.NoError(t, store.SaveWindow(context.Background(), "global", windows["global"]))

		again, err := store.LoadWindows(context.Background())
		require.NoError(t, err)
		assert.Equal(t, windows, again)
	})
}

func TestTrackerConcurrency(t *testing.T) {
	tracker := newTracker(t, Config{RollingWindowSize: 50})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tracker.Record("global", entry(StatusSuccess, 1.0))
				tracker.KPI("global")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.KPI("global").SampleCount)
}

func TestDeriveScore(t *testing.T) {
	assert.Equal(t, 1.0, DeriveScore(StatusSuccess, 500, false))
	assert.Equal(t, 0.8, DeriveScore(StatusSuccess, 10, false), "very short response penalized")
	assert.Equal(t, 0.8, DeriveScore(StatusSuccess, 5000, false), "very long response penalized")
	assert.Equal(t, 0.5, DeriveScore(StatusPartial, 500, false))
	assert.Equal(t, 0.35, DeriveScore(StatusPartial, 500, true), "truncated turns score lower")
	assert.Equal(t, 0.0, DeriveScore(StatusFailed, 500, false))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-1))
	assert.Equal(t, 1.0, ClampScore(2))
	assert.Equal(t, 0.7, ClampScore(0.7))
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" Success ")
	assert.True(t, ok)
	assert.Equal(t, StatusSuccess, s)

	_, ok = ParseStatus("unknown")
	assert.False(t, ok)
}
