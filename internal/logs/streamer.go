// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logs streams the supervisor server's log file into the output
// channel.
package logs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	maxLineSize  = 1024 * 1024 // 1MB max line size
	readChunk    = 64 * 1024
	pollInterval = time.Second
)

// LineSink receives complete lines from a Streamer.
type LineSink interface {
	AppendLine(line string)
}

// Status represents the state of a Streamer.
type Status struct {
	Path        string    `json:"path"`
	Watching    bool      `json:"watching"`
	Error       string    `json:"error,omitempty"`
	LastError   time.Time `json:"last_error,omitempty"`
	BytesRead   int64     `json:"bytes_read"`
	LinesRead   int64     `json:"lines_read"`
	LastRotated time.Time `json:"last_rotated,omitempty"`
}

// Streamer follows a log file from its beginning and forwards each complete
// line to a sink. The file may not exist yet when Watch is called.
type Streamer struct {
	path   string
	sink   LineSink
	logger *zap.Logger

	mu      sync.RWMutex
	status  Status
	offset  int64
	partial []byte

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed bool
}

// NewStreamer creates a streamer for path.
func NewStreamer(path string, sink LineSink, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{
		path:   filepath.Clean(path),
		sink:   sink,
		logger: logger,
		status: Status{Path: path},
	}
}

// Path returns the file being followed.
func (s *Streamer) Path() string {
	return s.path
}

// Watch starts following the file in the background. It returns once the
// watcher is installed; lines already in the file are delivered promptly.
func (s *Streamer) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errors.New("streamer disposed")
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("streamer already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory so creation, truncation and rotation are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		s.mu.Unlock()
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.status.Watching = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer watcher.Close()
		s.follow(ctx, watcher)
	}()
	return nil
}

func (s *Streamer) follow(ctx context.Context, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.readAvailable()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.status.Watching = false
			s.mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.rotated()
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.readAvailable()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.setError(err)

		case <-ticker.C:
			// Catch writes on filesystems that drop events.
			s.readAvailable()
		}
	}
}

// readAvailable reads from the current offset to EOF.
func (s *Streamer) readAvailable() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.setError(err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.setError(err)
		return
	}

	s.mu.Lock()
	if info.Size() < s.offset {
		// Truncated in place; start over.
		s.offset = 0
		s.partial = nil
		s.status.LastRotated = time.Now()
	}
	offset := s.offset
	s.mu.Unlock()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		s.setError(err)
		return
	}

	buf := make([]byte, readChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			s.consume(buf[:n])
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			s.setError(err)
			return
		}
	}
}

// consume splits data into lines and forwards complete ones.
func (s *Streamer) consume(data []byte) {
	s.mu.Lock()
	s.offset += int64(len(data))
	s.status.BytesRead += int64(len(data))
	s.partial = append(s.partial, data...)

	var lines []string
	for {
		idx := bytes.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSuffix(s.partial[:idx], []byte("\r")))
		s.partial = s.partial[idx+1:]
		if len(line) > maxLineSize {
			line = line[:maxLineSize] + "... [truncated]"
		}
		lines = append(lines, line)
	}
	if len(s.partial) > maxLineSize {
		lines = append(lines, string(s.partial[:maxLineSize])+"... [truncated]")
		s.partial = nil
	}
	s.status.LinesRead += int64(len(lines))
	s.mu.Unlock()

	for _, line := range lines {
		s.sink.AppendLine(line)
	}
}

func (s *Streamer) rotated() {
	s.mu.Lock()
	s.offset = 0
	s.partial = nil
	s.status.LastRotated = time.Now()
	s.mu.Unlock()
}

func (s *Streamer) setError(err error) {
	s.mu.Lock()
	s.status.Error = err.Error()
	s.status.LastError = time.Now()
	s.mu.Unlock()
	s.logger.Debug("log streamer error", zap.String("path", s.path), zap.Error(err))
}

// Status returns a snapshot of the streamer's state.
func (s *Streamer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Dispose stops following the file. It is safe to call more than once.
func (s *Streamer) Dispose() {
	s.mu.Lock()
	s.disposed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
