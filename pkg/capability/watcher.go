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

package capability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches manifest roots and emits a debounced refresh signal when
// CAPABILITY.yaml or SKILL.md files change.
type Watcher struct {
	watcher       *fsnotify.Watcher
	roots         []string
	refreshChan   chan struct{}
	cancel        context.CancelFunc
	mu            sync.Mutex
	isWatching    bool
	debounceDelay time.Duration
}

// WatcherConfig configures the manifest watcher.
type WatcherConfig struct {
	Roots         []string
	DebounceDelay time.Duration // default: 500ms
}

// NewWatcher creates a manifest watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.DebounceDelay
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}

	roots := cfg.Roots
	if len(roots) == 0 {
		roots = DefaultManifestRoots()
	}

	return &Watcher{
		watcher:       watcher,
		roots:         roots,
		refreshChan:   make(chan struct{}, 1),
		debounceDelay: debounce,
	}, nil
}

// Start begins watching. The returned channel receives one signal per
// debounced burst of file events.
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWatching {
		return w.refreshChan, nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.isWatching = true

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			slog.Debug("Skipping unwatchable manifest root", "root", root, "error", err)
		}
	}

	go w.watchEvents(ctx)

	slog.Info("Started capability manifest watcher", "roots", strings.Join(w.roots, string(os.PathListSeparator)))
	return w.refreshChan, nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}

	w.cancel()
	w.isWatching = false
	return w.watcher.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) watchEvents(ctx context.Context) {
	var timer *time.Timer

	fire := func() {
		select {
		case w.refreshChan <- struct{}{}:
		default: // a refresh is already pending
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifestEvent(event) {
				continue
			}

			// New directories need to be added to the watch set.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addTree(event.Name)
				}
			}

			if timer == nil {
				timer = time.AfterFunc(w.debounceDelay, fire)
			} else {
				timer.Reset(w.debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Capability manifest watcher error", "error", err)
		}
	}
}

func isManifestEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if base == manifestFileName || base == manifestFileNameAlt || base == skillContentFile {
		return true
	}
	// Directory creations may bring manifests with them.
	if event.Op&fsnotify.Create != 0 && filepath.Ext(base) == "" {
		return true
	}
	return false
}
