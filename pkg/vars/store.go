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

// Package vars implements the hub's typed variable table: a fixed set of
// named scalar variables defined at startup, with per-variable update
// subscriptions and asynchronous persistence of the persistent subset.
package vars

import (
	"errors"
	"sync"

	"github.com/rovhub/rovhub/pkg/client"
	"github.com/rovhub/rovhub/pkg/logging"
	"github.com/rovhub/rovhub/pkg/metrics"
)

var (
	// ErrNotFound is returned for a variable name absent from the schema.
	ErrNotFound = errors.New("no such variable")
	// ErrReadOnly is returned by Set for a read-only variable.
	ErrReadOnly = errors.New("variable is read-only")
	// ErrNotSubscribed is returned by Unsubscribe when the client holds no
	// subscription for the variable.
	ErrNotSubscribed = errors.New("not subscribed")
)

// Notifier receives the post-write fan-out: one call per subscriber
// snapshotted at write time. The broker implements this by sending WATCH
// pushes. Calls are made without any variable lock held.
type Notifier interface {
	NotifyUpdate(c *client.Client, name string, value float64)
}

// Variable is one entry of the variable table. The set of variables is
// fixed at startup; only the value and the subscriber set change.
type Variable struct {
	Name       string
	Default    float64
	Persistent bool
	ReadOnly   bool

	mu          sync.RWMutex
	value       float64
	subscribers map[string]*client.Client
}

// Store holds the variable table. The table itself is immutable after New;
// per-variable state is guarded by each variable's own lock.
type Store struct {
	vars       map[string]*Variable
	persistent []string
	dbPath     string
	sink       *logging.Sink
	wake       chan struct{}

	notifierMu sync.RWMutex
	notifier   Notifier
}

// SetNotifier installs the fan-out target for variable writes. Wired once
// at startup, before the store is reachable from the network.
func (s *Store) SetNotifier(n Notifier) {
	s.notifierMu.Lock()
	s.notifier = n
	s.notifierMu.Unlock()
}

func (s *Store) getNotifier() Notifier {
	s.notifierMu.RLock()
	defer s.notifierMu.RUnlock()
	return s.notifier
}

// HasPersistent reports whether any variable is persistent. The flusher is
// only spawned when this is true.
func (s *Store) HasPersistent() bool {
	return len(s.persistent) > 0
}

// Names returns every variable name. Test and diagnostic use.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	return names
}

// Get returns the current value and the read-only flag of a variable.
func (s *Store) Get(name string) (value float64, readOnly bool, err error) {
	v, ok := s.vars[name]
	if !ok {
		return 0, false, ErrNotFound
	}
	v.mu.RLock()
	value = v.value
	v.mu.RUnlock()
	return value, v.ReadOnly, nil
}

// Set applies a write to a variable. The value is updated and the
// subscriber set snapshotted under the variable's lock; the flusher is
// woken for persistent variables; the fan-out then runs with no lock held,
// so a slow subscriber can never block other writers. Subscribers present
// at snapshot time are notified exactly once for this write.
func (s *Store) Set(name string, value float64) error {
	v, ok := s.vars[name]
	if !ok {
		return ErrNotFound
	}

	v.mu.Lock()
	if v.ReadOnly {
		v.mu.Unlock()
		return ErrReadOnly
	}
	v.value = value
	snapshot := make([]*client.Client, 0, len(v.subscribers))
	for _, c := range v.subscribers {
		snapshot = append(snapshot, c)
	}
	v.mu.Unlock()

	metrics.VariableWrites.Inc()
	if v.Persistent {
		s.RequestFlush()
	}

	if n := s.getNotifier(); n != nil {
		for _, c := range snapshot {
			n.NotifyUpdate(c, name, value)
		}
	}
	return nil
}

// Subscribe adds the client to the variable's subscriber set and mirrors
// the variable into the client's subscription set. Idempotent.
func (s *Store) Subscribe(c *client.Client, name string) error {
	v, ok := s.vars[name]
	if !ok {
		return ErrNotFound
	}
	v.mu.Lock()
	v.subscribers[c.ID] = c
	v.mu.Unlock()
	c.AddSubscription(name)
	return nil
}

// Unsubscribe removes the client from the variable's subscriber set and the
// variable from the client's subscription set.
func (s *Store) Unsubscribe(c *client.Client, name string) error {
	v, ok := s.vars[name]
	if !ok {
		return ErrNotFound
	}
	v.mu.Lock()
	if _, ok := v.subscribers[c.ID]; !ok {
		v.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(v.subscribers, c.ID)
	v.mu.Unlock()
	c.RemoveSubscription(name)
	return nil
}

// DropClient removes the client from every variable's subscriber set.
// Called exactly once, by the reaper, during client teardown.
func (s *Store) DropClient(c *client.Client) {
	for _, name := range c.TakeSubscriptions() {
		v, ok := s.vars[name]
		if !ok {
			continue
		}
		v.mu.Lock()
		delete(v.subscribers, c.ID)
		v.mu.Unlock()
	}
}

// SubscriberIDs returns the ids of the variable's current subscribers.
// Diagnostic and test use.
func (s *Store) SubscriberIDs(name string) []string {
	v, ok := s.vars[name]
	if !ok {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.subscribers))
	for id := range v.subscribers {
		ids = append(ids, id)
	}
	return ids
}
