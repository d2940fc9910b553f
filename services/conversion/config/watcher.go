// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/ConversionPulse/services/conversion/scoring"
)

// WeightsHandler receives freshly parsed weights after a file change.
type WeightsHandler func(weights scoring.Weights)

// Watcher hot-reloads the scoring weights file.
//
// # Description
//
// Watches the directory containing the weights file (editors replace files
// by rename, so watching the file directly misses updates) and applies a
// debounce window before re-reading, coalescing editor write bursts into
// one reload. A file that fails to parse is ignored with a warning; the
// last good weights stay in effect.
//
// # Thread Safety
//
// Safe for concurrent use. Start may be called once; Close is idempotent.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  WeightsHandler
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a weights-file watcher.
//
// # Inputs
//
//   - path: The weights YAML file to watch.
//   - debounce: Coalescing window for change bursts. Zero selects 500ms.
//   - handler: Called with the parsed weights after each good reload.
//   - logger: Destination for reload and parse-failure logs.
func NewWatcher(path string, debounce time.Duration, handler WeightsHandler, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		handler:  handler,
		logger:   logger,
	}
}

// Start begins watching until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.watcher = fsWatcher
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx, fsWatcher)
	return nil
}

// Close stops the watcher and waits for the run loop to exit.
func (w *Watcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Watcher) run(ctx context.Context, fsWatcher *fsnotify.Watcher) {
	defer close(w.done)
	defer fsWatcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("weights watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	weights, err := LoadWeights(w.path)
	if err != nil {
		w.logger.Warn("ignoring unparseable weights update", "path", w.path, "error", err)
		return
	}
	w.logger.Info("scoring weights reloaded", "path", w.path)
	if w.handler != nil {
		w.handler(weights)
	}
}
