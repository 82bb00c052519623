// Copyright 2024 The rovhub Authors
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

// Package logging provides the hub's central log sink. Entries originate
// either from the hub itself or from connected applications via LOG
// messages, and are written to an optional log file with optional
// replication to standard output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level is a hub log level. Levels order from Debug up to Critical and a
// sink discards entries below its configured minimum.
type Level int

const (
	Debug Level = iota
	Info
	Normal
	Warning
	Error
	Critical
)

var levelNames = [...]string{"DEBUG", "INFO", "NORMAL", "WARNING", "ERROR", "CRITICAL"}

// slog has no NORMAL or CRITICAL; the hub levels map onto custom slog
// levels so handler filtering still applies.
var slogLevels = [...]slog.Level{
	Debug:    slog.LevelDebug,
	Info:     slog.LevelInfo,
	Normal:   slog.LevelInfo + 1,
	Warning:  slog.LevelWarn,
	Error:    slog.LevelError,
	Critical: slog.LevelError + 4,
}

// String returns the canonical upper-case level name.
func (l Level) String() string {
	if l < Debug || l > Critical {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// LevelFromName resolves a level name (case-insensitive). The second return
// is false for unknown names.
func LevelFromName(name string) (Level, bool) {
	for i, n := range levelNames {
		if strings.EqualFold(name, n) {
			return Level(i), true
		}
	}
	return Normal, false
}

// LevelFromInt clamps a wire-supplied integer level into the valid range.
// Applications send the level as a small integer in LOG messages.
func LevelFromInt(n int) Level {
	if n < int(Debug) {
		return Debug
	}
	if n > int(Critical) {
		return Critical
	}
	return Level(n)
}

// Options configures a Sink.
type Options struct {
	// FilePath is the log file. Empty means standard output only.
	FilePath string
	// MinLevel discards entries below this level.
	MinLevel Level
	// ReplicateStdout duplicates file entries to standard output.
	ReplicateStdout bool
}

// Sink is the central log sink. It is safe for concurrent use; entries from
// all hub tasks and all clients funnel through one handler.
type Sink struct {
	logger *slog.Logger
	min    Level
	file   *os.File

	mu     sync.Mutex
	closed bool
}

// NewSink opens the configured log file (created, append mode) and builds
// the sink. A file open failure falls back to standard output and returns
// the error alongside a usable sink.
func NewSink(opts Options) (*Sink, error) {
	var (
		file    *os.File
		out     io.Writer = os.Stdout
		openErr error
	)

	if opts.FilePath != "" {
		file, openErr = os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if openErr != nil {
			openErr = fmt.Errorf("opening log file %s: %w", opts.FilePath, openErr)
			file = nil
		} else if opts.ReplicateStdout {
			out = io.MultiWriter(file, os.Stdout)
		} else {
			out = file
		}
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: slogLevels[opts.MinLevel],
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Render hub level names instead of slog's.
			if a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(hubLevelName(lv))
				}
			}
			return a
		},
	})

	return &Sink{
		logger: slog.New(handler),
		min:    opts.MinLevel,
		file:   file,
	}, openErr
}

func hubLevelName(lv slog.Level) string {
	for i := Critical; i >= Debug; i-- {
		if lv >= slogLevels[i] {
			return levelNames[i]
		}
	}
	return levelNames[Debug]
}

// Log writes a hub-originated entry.
func (s *Sink) Log(level Level, msg string) {
	s.LogApp("Hub", level, msg)
}

// Logf writes a formatted hub-originated entry.
func (s *Sink) Logf(level Level, format string, args ...any) {
	s.LogApp("Hub", level, fmt.Sprintf(format, args...))
}

// LogApp writes an entry attributed to a named application. Client LOG
// messages land here.
func (s *Sink) LogApp(app string, level Level, msg string) {
	if level < s.min {
		return
	}
	s.logger.Log(context.Background(), slogLevels[level], msg, "app", app)
}

// Close flushes and closes the log file, if any. Safe to call more than
// once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.file == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
