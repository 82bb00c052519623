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

// Package client holds the per-connection client record: connection state,
// notification filters, variable subscriptions, and the serialized outbound
// write path.
package client

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rovhub/rovhub/pkg/codec"
)

// State is the connection state of a client. State only progresses
// forward; a client never leaves Closed.
type State int32

const (
	// StateUnknown is the zero value and never assigned to a live client.
	StateUnknown State = iota
	// StateUnauthenticated is the state of every newly accepted client.
	StateUnauthenticated
	// StateConnected is reached after a successful COMM AUTH.
	StateConnected
	// StateClosed is terminal. No message is dispatched to or from a
	// closed client.
	StateClosed
)

// String returns a short state name for logging.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FilterType selects the matching rule of a notification filter.
type FilterType int

const (
	// FilterMatch requires the entire payload to equal the body.
	FilterMatch FilterType = 1
	// FilterAction requires the body to be a literal leading substring of
	// the payload.
	FilterAction FilterType = 2
	// FilterPrefix requires the body to equal the payload's leading action
	// token: the match must end at a space boundary or at the end of the
	// payload.
	FilterPrefix FilterType = 3
)

// ValidFilterType reports whether n maps to a defined filter type.
func ValidFilterType(n int) bool {
	return n >= int(FilterMatch) && n <= int(FilterPrefix)
}

// Filter is a per-client predicate on notification payloads.
type Filter struct {
	Type FilterType
	Body string
}

// matches evaluates the filter against a payload of the form "ACTION ARG".
func (f Filter) matches(payload string) bool {
	switch f.Type {
	case FilterMatch:
		return payload == f.Body
	case FilterAction:
		return strings.HasPrefix(payload, f.Body)
	case FilterPrefix:
		if !strings.HasPrefix(payload, f.Body) {
			return false
		}
		return len(payload) == len(f.Body) || payload[len(f.Body)] == ' '
	default:
		return false
	}
}

// ErrNotWritable is returned by SendPacked when the peer cannot accept
// data. Callers mark the client closed and move on.
var ErrNotWritable = errors.New("client socket not writable")

// Client is one connected application. The registry owns Client records;
// every other component borrows them through the in-use lock.
type Client struct {
	// ID is the registry key for this client. Variables reference
	// subscribers by this id, never by owning pointer.
	ID string

	conn   net.Conn
	reader *bufio.Reader
	state  atomic.Int32

	// name is the display name announced by the application, if any.
	nameMu sync.Mutex
	name   string

	filterMu sync.RWMutex
	filters  []Filter

	subMu      sync.Mutex
	subscribed map[string]struct{}

	// sendMu serializes writes so messages to one client are delivered in
	// send order.
	sendMu sync.Mutex

	// inUse is held shared by any task dereferencing the client (sending,
	// filter matching) and exclusively by the reaper, which thereby waits
	// for in-flight borrows to drain before tearing the client down.
	inUse sync.RWMutex
}

// New allocates a client in StateUnauthenticated for an accepted
// connection.
func New(conn net.Conn) *Client {
	c := &Client{
		ID:         uuid.NewString(),
		conn:       conn,
		subscribed: make(map[string]struct{}),
	}
	if conn != nil {
		c.reader = bufio.NewReader(conn)
	}
	c.state.Store(int32(StateUnauthenticated))
	return c
}

// Receive blocks until one full frame arrives from the client and decodes
// it. Only the client's reader task calls this. Unblocked by CloseConn.
func (c *Client) Receive() (*codec.Message, error) {
	return codec.Decode(c.reader)
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// SetConnected promotes an unauthenticated client to StateConnected. The
// promotion is a no-op for a client that is already connected or closed;
// state never moves backwards.
func (c *Client) SetConnected() {
	c.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateConnected))
}

// MarkClosed transitions the client to StateClosed. It returns true only on
// the first transition; later calls are no-ops.
func (c *Client) MarkClosed() bool {
	for {
		old := c.state.Load()
		if old == int32(StateClosed) {
			return false
		}
		if c.state.CompareAndSwap(old, int32(StateClosed)) {
			return true
		}
	}
}

// SetName records the display name announced by the application.
func (c *Client) SetName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

// Name returns the announced display name, or the client id when the
// application never announced one.
func (c *Client) Name() string {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	if c.name == "" {
		return c.ID
	}
	return c.name
}

// RemoteAddr returns the peer address for logging.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// AddFilter appends a notification filter. Filters are evaluated in the
// order they were added.
func (c *Client) AddFilter(f Filter) {
	c.filterMu.Lock()
	c.filters = append(c.filters, f)
	c.filterMu.Unlock()
}

// ClearFilters removes every notification filter. A client with zero
// filters matches nothing.
func (c *Client) ClearFilters() {
	c.filterMu.Lock()
	c.filters = nil
	c.filterMu.Unlock()
}

// CheckFilters reports whether any filter matches the notification payload.
func (c *Client) CheckFilters(payload string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	for _, f := range c.filters {
		if f.matches(payload) {
			return true
		}
	}
	return false
}

// AddSubscription mirrors a variable subscription into the client's set.
// Idempotent.
func (c *Client) AddSubscription(name string) {
	c.subMu.Lock()
	c.subscribed[name] = struct{}{}
	c.subMu.Unlock()
}

// RemoveSubscription removes a variable from the client's subscription set.
func (c *Client) RemoveSubscription(name string) {
	c.subMu.Lock()
	delete(c.subscribed, name)
	c.subMu.Unlock()
}

// Subscribed reports whether the client is subscribed to the named
// variable.
func (c *Client) Subscribed(name string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, ok := c.subscribed[name]
	return ok
}

// TakeSubscriptions empties and returns the subscription set. The reaper
// uses this to drop the variable-side references exactly once.
func (c *Client) TakeSubscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	names := make([]string, 0, len(c.subscribed))
	for name := range c.subscribed {
		names = append(names, name)
	}
	c.subscribed = make(map[string]struct{})
	return names
}

// SendPacked writes an encoded frame to the client. Writes are serialized
// by the per-client send lock and never wait for buffer space: the hub does
// not buffer on behalf of a slow client. A write that cannot proceed
// without blocking is reported as ErrNotWritable. The caller is responsible
// for marking the client closed on error.
func (c *Client) SendPacked(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.State() == StateClosed {
		return net.ErrClosed
	}

	// A deadline already in the past makes the write a zero-timeout
	// attempt: it fails with a timeout instead of waiting for the peer to
	// drain its buffer.
	if err := c.conn.SetWriteDeadline(time.Now()); err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrNotWritable
		}
		return err
	}
	return nil
}

// Acquire takes a shared in-use reference. Every task about to
// dereference the client outside the reader loop pairs this with Release.
func (c *Client) Acquire() {
	c.inUse.RLock()
}

// Release drops a shared in-use reference.
func (c *Client) Release() {
	c.inUse.RUnlock()
}

// Retire runs fn while holding the in-use lock exclusively, waiting for all
// outstanding borrows to drain first. Only the reaper calls this.
func (c *Client) Retire(fn func()) {
	c.inUse.Lock()
	defer c.inUse.Unlock()
	fn()
}

// CloseConn shuts the underlying socket down. Unblocks a reader parked in a
// blocking receive.
func (c *Client) CloseConn() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
