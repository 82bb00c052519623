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

package vars

import (
	"context"
	"fmt"
	"os"

	"github.com/rovhub/rovhub/pkg/logging"
	"github.com/rovhub/rovhub/pkg/metrics"
)

// RequestFlush wakes the flusher. At most one flush request is pending at a
// time; writes that land between two flushes coalesce into one.
func (s *Store) RequestFlush() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunFlusher is the background writer that owns the on-disk database. It
// blocks until the context is cancelled, performing one flush per wake. On
// shutdown a final flush runs before returning, so the last write always
// reaches disk. A flush failure leaves the previous file untouched and is
// logged; the flusher keeps running.
func (s *Store) RunFlusher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil && s.sink != nil {
				s.sink.Logf(logging.Error, "Final database flush failed: %v", err)
			}
			return nil
		case <-s.wake:
			if err := s.Flush(); err != nil && s.sink != nil {
				s.sink.Logf(logging.Error, "Unable to flush database: %v", err)
			}
		}
	}
}

// Flush writes every persistent variable to a temp file next to the
// database and atomically renames it into place. A crash mid-flush leaves
// at most a stale but consistent previous version on disk.
func (s *Store) Flush() error {
	tmpPath := s.dbPath + ".0"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}

	fmt.Fprintf(f, "# %-18s = %s\n", "VARIABLE", "VALUE")
	for _, name := range s.persistent {
		v := s.vars[name]
		v.mu.RLock()
		value := v.value
		v.mu.RUnlock()
		fmt.Fprintf(f, "%-20s = %.4f\n", name, value)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.dbPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", s.dbPath, err)
	}

	metrics.FlushesTotal.Inc()
	return nil
}
