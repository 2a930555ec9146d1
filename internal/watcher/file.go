// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher reports debounced changes to individual files.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher calls back when watched files change. It watches the parent
// directory so that editors which replace files by rename are still seen.
type FileWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	logger    *zap.Logger
	files     map[string]func(path string) // abs path -> callback
	dirs      map[string]int               // dir -> watched file count
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewFileWatcher creates a watcher with the given debounce period.
func NewFileWatcher(debounce time.Duration, logger *zap.Logger) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &FileWatcher{
		watcher:   fsw,
		debouncer: NewDebouncer(debounce),
		logger:    logger.Named("watcher"),
		files:     make(map[string]func(string)),
		dirs:      make(map[string]int),
		closeCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Watch registers fn for changes to path. Watching a path again replaces
// its callback.
func (w *FileWatcher) Watch(path string, fn func(path string)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if _, ok := w.files[abs]; ok {
		w.files[abs] = fn
		return nil
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[abs] = fn
	w.logger.Debug("watching file", zap.String("path", abs))
	return nil
}

// Unwatch stops watching path.
func (w *FileWatcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return fmt.Errorf("%s is not being watched", path)
	}
	delete(w.files, abs)
	w.debouncer.Cancel(abs)

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.watcher.Remove(dir)
	}
	return nil
}

// Watching returns the watched paths.
func (w *FileWatcher) Watching() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	return out
}

// Close stops the watcher.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *FileWatcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", zap.Error(err))
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	// Chmod alone is noise.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	_, ok := w.files[name]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.debouncer.Debounce(name, func() {
		w.mu.Lock()
		fn, ok := w.files[name]
		closed := w.closed
		w.mu.Unlock()
		if !ok || closed {
			return
		}
		w.logger.Debug("file changed", zap.String("path", name))
		fn(name)
	})
}
