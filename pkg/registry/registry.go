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

// Package registry tracks the live client set and owns client teardown. A
// dedicated reaper drains closed clients, waiting for in-flight borrows to
// drop before releasing their resources.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/rovhub/rovhub/pkg/client"
	"github.com/rovhub/rovhub/pkg/metrics"
)

// DefaultMaxClients caps the live client count when no ceiling is
// configured.
const DefaultMaxClients = 128

// ErrFull is returned by Add when the live client count is at the ceiling.
var ErrFull = errors.New("maximum client count reached")

// SubscriptionDropper removes a client from every variable subscriber set.
// The variable store implements this.
type SubscriptionDropper interface {
	DropClient(c *client.Client)
}

// Registry owns the client table. All access to the table is serialized
// through the registry lock; per-client state is guarded by the client's
// own locks.
type Registry struct {
	dropper SubscriptionDropper
	max     int

	mu      sync.RWMutex
	clients map[string]*client.Client

	// closed is the to-be-reaped queue. MarkClosed enqueues each client
	// exactly once; only the reaper consumes.
	closed chan *client.Client
}

// New creates a registry with the given client ceiling (0 means
// DefaultMaxClients).
func New(dropper SubscriptionDropper, maxClients int) *Registry {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	return &Registry{
		dropper: dropper,
		max:     maxClients,
		clients: make(map[string]*client.Client),
		closed:  make(chan *client.Client, 2*maxClients),
	}
}

// Add registers a newly accepted client. Returns ErrFull at the ceiling;
// the caller logs and shuts the socket down.
func (r *Registry) Add(c *client.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= r.max {
		return ErrFull
	}
	r.clients[c.ID] = c
	metrics.ClientsLive.Set(float64(len(r.clients)))
	return nil
}

// Len returns the current live client count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns the current client set. Iterating the snapshot does not
// hold the registry lock; callers borrow each client before use.
func (r *Registry) Snapshot() []*client.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*client.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// MarkClosed transitions the client to closed and hands it to the reaper.
// Safe to call from any task, any number of times; only the first call
// enqueues.
func (r *Registry) MarkClosed(c *client.Client) {
	if !c.MarkClosed() {
		return
	}
	r.closed <- c
}

// RunReaper drains the closed-client queue until the context is cancelled,
// then keeps draining until the queue is empty so no closed client leaks at
// shutdown. For each client it waits for outstanding borrows via the
// client's in-use lock, drops its variable subscriptions, clears its
// filters, and shuts down its socket.
func (r *Registry) RunReaper(ctx context.Context) error {
	for {
		select {
		case c := <-r.closed:
			r.reap(c)
		case <-ctx.Done():
			for {
				select {
				case c := <-r.closed:
					r.reap(c)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Registry) reap(c *client.Client) {
	c.Retire(func() {
		if r.dropper != nil {
			r.dropper.DropClient(c)
		}
		c.ClearFilters()
		c.CloseConn()
	})

	r.mu.Lock()
	delete(r.clients, c.ID)
	metrics.ClientsLive.Set(float64(len(r.clients)))
	r.mu.Unlock()
}
