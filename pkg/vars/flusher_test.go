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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushWritesDatabase(t *testing.T) {
	dir := t.TempDir()
	defsPath := writeFile(t, dir, "hub.defs", "PID.p = 0.0 , 1 , 0\nDepth = 0.0 , 0 , 0\n")
	dbPath := filepath.Join(dir, "hub.db")

	s, err := New(defsPath, dbPath, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set("PID.p", 3.25))
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "#"), "expected header comment, got %q", content)
	assert.Contains(t, content, "PID.p")
	assert.Contains(t, content, "3.2500")
	// Non-persistent variables never reach the database.
	assert.NotContains(t, content, "Depth")

	// The temp file does not survive a successful flush.
	_, err = os.Stat(dbPath + ".0")
	assert.True(t, os.IsNotExist(err))
}

func TestFlushedDatabaseRoundTrips(t *testing.T) {
	dir := t.TempDir()
	defsPath := writeFile(t, dir, "hub.defs", "PID.p = 0.0 , 1 , 0\n")
	dbPath := filepath.Join(dir, "hub.db")

	s, err := New(defsPath, dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set("PID.p", 3.25))
	require.NoError(t, s.Flush())

	// A fresh store started on the flushed database observes the value.
	restarted, err := New(defsPath, dbPath, nil)
	require.NoError(t, err)
	value, _, err := restarted.Get("PID.p")
	require.NoError(t, err)
	assert.Equal(t, 3.25, value)
}

func TestRequestFlushCoalesces(t *testing.T) {
	s := newTestStore(t, "PID.p = 0.0 , 1 , 0\n")

	s.RequestFlush()
	s.RequestFlush()
	s.RequestFlush()

	// At most one pending request.
	assert.Len(t, s.wake, 1)
}

func TestRunFlusherConvergence(t *testing.T) {
	dir := t.TempDir()
	defsPath := writeFile(t, dir, "hub.defs", "PID.p = 0.0 , 1 , 0\n")
	dbPath := filepath.Join(dir, "hub.db")

	s, err := New(defsPath, dbPath, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunFlusher(ctx)
		close(done)
	}()

	require.NoError(t, s.Set("PID.p", 1.5))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(dbPath)
		return err == nil && strings.Contains(string(data), "1.5000")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunFlusherFinalFlushOnShutdown(t *testing.T) {
	dir := t.TempDir()
	defsPath := writeFile(t, dir, "hub.defs", "PID.p = 0.0 , 1 , 0\n")
	dbPath := filepath.Join(dir, "hub.db")

	s, err := New(defsPath, dbPath, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunFlusher(ctx)
		close(done)
	}()

	// Write and immediately shut down; the final flush must land it.
	require.NoError(t, s.Set("PID.p", 3.25))
	cancel()
	<-done

	data, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "3.2500")
}
