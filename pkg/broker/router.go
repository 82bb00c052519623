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

package broker

import (
	"fmt"

	"github.com/rovhub/rovhub/pkg/client"
	"github.com/rovhub/rovhub/pkg/codec"
	"github.com/rovhub/rovhub/pkg/logging"
	"github.com/rovhub/rovhub/pkg/metrics"
)

// broadcast fans a published notification out to every connected client
// whose filters match the payload. Matching and sending are two passes so
// no client's send stalls filter evaluation for the rest.
func (b *Broker) broadcast(payload string) {
	frame, err := codec.Encode(codec.NewMessage("NOTIFY", "IN", payload))
	if err != nil {
		b.sink.Logf(logging.Critical, "Dropping unencodable notification: %v", err)
		return
	}

	var matched []*client.Client
	for _, c := range b.reg.Snapshot() {
		if c.State() != client.StateConnected {
			continue
		}
		c.Acquire()
		ok := c.State() == client.StateConnected && c.CheckFilters(payload)
		c.Release()
		if ok {
			matched = append(matched, c)
		}
	}

	for _, c := range matched {
		c.Acquire()
		err := c.SendPacked(frame)
		c.Release()
		if err != nil {
			b.sink.Logf(logging.Debug, "Client %s disconnected, shutting down client", c.Name())
			b.reg.MarkClosed(c)
			continue
		}
		metrics.NotificationsRouted.Inc()
	}
}

// NotifyUpdate implements vars.Notifier: it pushes a WATCH message with the
// variable's new value to one subscriber. Called by the variable store
// after a write, with no variable lock held.
func (b *Broker) NotifyUpdate(c *client.Client, name string, value float64) {
	if c.State() != client.StateConnected {
		return
	}

	frame, err := codec.Encode(codec.NewMessage("WATCH", name, fmt.Sprintf("%f", value)))
	if err != nil {
		b.sink.Logf(logging.Critical, "Dropping unencodable update for %q: %v", name, err)
		return
	}

	c.Acquire()
	err = c.SendPacked(frame)
	c.Release()
	if err != nil {
		b.sink.Logf(logging.Debug, "Client %s disconnected, shutting down client", c.Name())
		b.reg.MarkClosed(c)
		return
	}
	metrics.WatchUpdates.Inc()
}
