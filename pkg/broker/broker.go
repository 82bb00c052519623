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

// package broker contains the hub's network engine: the listener, the
// per-client reader tasks, the message dispatcher, and the notification
// router.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rovhub/rovhub/pkg/client"
	"github.com/rovhub/rovhub/pkg/codec"
	"github.com/rovhub/rovhub/pkg/config"
	"github.com/rovhub/rovhub/pkg/logging"
	"github.com/rovhub/rovhub/pkg/metrics"
	"github.com/rovhub/rovhub/pkg/registry"
	"github.com/rovhub/rovhub/pkg/vars"
)

// Broker drives all client I/O: one listener task, one reader task per
// accepted client, ordered writes through each client's send lock.
type Broker struct {
	cfg   *config.Config
	reg   *registry.Registry
	store *vars.Store
	sink  *logging.Sink

	listening atomic.Bool
	addr      atomic.Value
	readers   sync.WaitGroup
}

// New wires a broker over the client registry and variable store. The
// broker installs itself as the store's update notifier.
func New(cfg *config.Config, reg *registry.Registry, store *vars.Store, sink *logging.Sink) *Broker {
	b := &Broker{
		cfg:   cfg,
		reg:   reg,
		store: store,
		sink:  sink,
	}
	store.SetNotifier(b)
	return b
}

// Addr returns the bound listen address, or "" before the listener is up.
// With a configured port of 0 this is where the kernel-assigned port shows
// up.
func (b *Broker) Addr() string {
	if addr, ok := b.addr.Load().(string); ok {
		return addr
	}
	return ""
}

// Healthy reports whether the listener is accepting connections.
func (b *Broker) Healthy() error {
	if !b.listening.Load() {
		return errors.New("listener not accepting connections")
	}
	return nil
}

// ListenAndServe binds the configured address and accepts clients until the
// context is cancelled, then drains: every live client is kicked with
// reason "Hub closing" and the call returns once every reader task has
// exited.
func (b *Broker) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.cfg.Addr())
	if err != nil {
		b.sink.Logf(logging.Critical, "Error binding socket: %v", err)
		return fmt.Errorf("listening on %s: %w", b.cfg.Addr(), err)
	}

	// Closing the listener is what unblocks Accept on shutdown.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	b.addr.Store(ln.Addr().String())
	b.listening.Store(true)
	defer b.listening.Store(false)
	b.sink.Logf(logging.Info, "Accepting client connections on %s", b.cfg.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				if !errors.Is(err, net.ErrClosed) {
					b.sink.Logf(logging.Error, "Error accepting new client connection: %v", err)
					continue
				}
			}
			break
		}

		metrics.ConnectionsTotal.Inc()
		c := client.New(conn)
		if err := b.reg.Add(c); err != nil {
			b.sink.Logf(logging.Error, "Unable to accept new client connection: %v", err)
			conn.Close()
			continue
		}

		b.sink.Logf(logging.Debug, "Accepted new client connection from %s", c.RemoteAddr())
		b.readers.Add(1)
		go b.readLoop(c)
	}

	b.shutdownClients()
	b.readers.Wait()
	b.sink.Log(logging.Info, "All client connections drained")
	return nil
}

// readLoop is the per-client reader task. It decodes one message at a
// time and hands it to the dispatcher, exiting when the client closes or
// is marked closed. A framing error or peer close marks the client closed;
// the reaper does the cleanup.
func (b *Broker) readLoop(c *client.Client) {
	defer b.readers.Done()

	for {
		msg, err := c.Receive()
		if err != nil {
			if c.State() != client.StateClosed {
				b.sink.Logf(logging.Debug, "Client %s disconnected: %v", c.Name(), err)
			}
			b.reg.MarkClosed(c)
			return
		}

		b.dispatch(c, msg)

		if c.State() == client.StateClosed {
			return
		}
	}
}

// shutdownClients kicks every live client during engine shutdown. The
// engine closes each socket itself so readers unblock even before the
// reaper gets to the client.
func (b *Broker) shutdownClients() {
	for _, c := range b.reg.Snapshot() {
		b.kick(c, "Hub closing")
		c.CloseConn()
	}
}

// send encodes a message and writes it to the client. A write failure
// marks the client closed; the caller treats this as normal attrition.
func (b *Broker) send(c *client.Client, msg *codec.Message) error {
	frame, err := codec.Encode(msg)
	if err != nil {
		// Only oversized hub-constructed messages land here.
		b.sink.Logf(logging.Critical, "Dropping unencodable message: %v", err)
		return err
	}
	if err := c.SendPacked(frame); err != nil {
		b.sink.Logf(logging.Debug, "Client %s write failed, shutting down client: %v", c.Name(), err)
		b.reg.MarkClosed(c)
		return err
	}
	return nil
}

// kick sends a best-effort COMM KICKING with the reason and marks the
// client closed.
func (b *Broker) kick(c *client.Client, reason string) {
	if reason == "" {
		reason = "kicked"
	}

	// The parenthesized detail (a variable name) stays out of the metric
	// label.
	label := reason
	if i := strings.Index(label, " ("); i >= 0 {
		label = label[:i]
	}
	metrics.KicksTotal.WithLabelValues(label).Inc()

	b.sink.Logf(logging.Info, "Kicking client %s: %s", c.Name(), reason)

	c.Acquire()
	if frame, err := codec.Encode(codec.NewMessage("COMM", "KICKING", reason)); err == nil {
		c.SendPacked(frame)
	}
	c.Release()

	b.reg.MarkClosed(c)
}
