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

// package supervisor provides restart-strategy supervision for the hub's
// long-running background tasks (reaper, flusher and health server).
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rovhub/rovhub/pkg/metrics"
)

// RestartStrategy defines the restart behavior for a supervised task.
type RestartStrategy int

const (
	// RestartPermanent indicates that the task should always be restarted.
	RestartPermanent RestartStrategy = iota
	// RestartTransient indicates that the task should be restarted only if
	// it terminates abnormally (with an error or a panic).
	RestartTransient
	// RestartTemporary indicates that the task should never be restarted.
	RestartTemporary
)

// Task is a long-running unit of work. Run blocks until the task finishes
// or the context is cancelled.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Run calls f.
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Spec defines a child task managed by a supervisor.
type Spec struct {
	// ID is a unique identifier for the task, used for logging and
	// restart metrics.
	ID string
	// Task is the task to be supervised.
	Task Task
	// Restart defines the restart strategy for this child.
	Restart RestartStrategy
}

// Supervisor defines the interface for a supervisor process.
type Supervisor interface {
	// Start begins supervision of a set of child tasks.
	Start(ctx context.Context, specs []Spec) error
	// StartChild starts and supervises a single child task dynamically.
	StartChild(ctx context.Context, spec Spec)
	// Wait blocks until every supervised child has terminated.
	Wait()
}

// OneForOneSupervisor implements a one-for-one supervision strategy: when a
// child terminates, only that child is restarted.
type OneForOneSupervisor struct {
	wg      sync.WaitGroup
	backoff time.Duration
}

// NewOneForOneSupervisor creates a new one-for-one supervisor.
func NewOneForOneSupervisor() *OneForOneSupervisor {
	return &OneForOneSupervisor{backoff: time.Second}
}

// Start launches the initial set of supervised children. Non-blocking.
func (s *OneForOneSupervisor) Start(ctx context.Context, specs []Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("no child specs provided")
	}
	for _, spec := range specs {
		s.StartChild(ctx, spec)
	}
	return nil
}

// StartChild launches and monitors a single new child task in its own
// goroutine.
func (s *OneForOneSupervisor) StartChild(ctx context.Context, spec Spec) {
	childCtx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.monitorChild(childCtx, spec)
	}()
}

// Wait blocks until all supervised children have terminated. Meaningful
// after the supervisor's context is cancelled.
func (s *OneForOneSupervisor) Wait() {
	s.wg.Wait()
}

// monitorChild runs a single child, handling termination, panics, and
// restart logic.
func (s *OneForOneSupervisor) monitorChild(ctx context.Context, spec Spec) {
	for {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task %s panicked: %v", spec.ID, r)
				}
			}()
			log.Printf("Starting task %s...", spec.ID)
			err = spec.Task.Run(ctx)
		}()

		log.Printf("Task %s terminated. Reason: %v", spec.ID, err)

		// If the supervisor's context is done, do not restart.
		select {
		case <-ctx.Done():
			return
		default:
		}

		shouldRestart := false
		switch spec.Restart {
		case RestartPermanent:
			shouldRestart = true
		case RestartTransient:
			shouldRestart = err != nil
		case RestartTemporary:
			shouldRestart = false
		}

		if !shouldRestart {
			log.Printf("Task %s will not be restarted based on strategy.", spec.ID)
			return
		}

		metrics.SupervisorRestartsTotal.WithLabelValues(spec.ID).Inc()
		log.Printf("Restarting task %s...", spec.ID)
		// A small delay to prevent rapid-fire restarts in case of
		// persistent issues.
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}
