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
	"errors"
	"fmt"
	"strconv"

	"github.com/rovhub/rovhub/pkg/client"
	"github.com/rovhub/rovhub/pkg/codec"
	"github.com/rovhub/rovhub/pkg/logging"
	"github.com/rovhub/rovhub/pkg/vars"
)

// dispatch classifies one inbound message by namespace and routes it to
// the matching handler. COMM is handled in every state; everything else
// requires the client to be authenticated.
func (b *Broker) dispatch(c *client.Client, msg *codec.Message) {
	if len(msg.Components) == 0 {
		b.kick(c, "Illegal message")
		return
	}

	if msg.Components[0] == "COMM" {
		b.handleComm(c, msg)
		return
	}

	if c.State() != client.StateConnected {
		b.kick(c, "Unauthenticated request")
		return
	}

	switch msg.Components[0] {
	case "NOTIFY":
		b.handleNotify(c, msg)
	case "VAR":
		b.handleVar(c, msg)
	case "WATCH":
		b.handleWatch(c, msg)
	case "LOG":
		b.handleLog(c, msg)
	default:
		b.kick(c, "Illegal message")
	}
}

// handleComm processes connection establishment, authentication, and
// shutdown requests.
func (b *Broker) handleComm(c *client.Client, msg *codec.Message) {
	switch {
	case len(msg.Components) == 3 && msg.Components[1] == "AUTH":
		password := b.cfg.Hub.Password
		if password == "" {
			b.sink.Log(logging.Critical, "No password set! Refusing to authenticate clients!")
			b.kick(c, "Authentication failure")
			return
		}

		if msg.Components[2] == password {
			c.SetConnected()
			b.send(c, codec.NewReply(msg.RequestID, "COMM", "SUCCESS"))
			b.sink.Logf(logging.Debug, "Client %s authenticated", c.Name())
			return
		}

		b.send(c, codec.NewReply(msg.RequestID, "COMM", "FAILURE"))
		b.kick(c, "Authentication failure")

	case len(msg.Components) == 2 && msg.Components[1] == "SHUTDOWN":
		b.send(c, codec.NewReply(msg.RequestID, "COMM", "CLOSING"))
		b.sink.Logf(logging.Info, "Shutting down client %s", c.Name())
		b.reg.MarkClosed(c)

	default:
		if c.State() != client.StateConnected {
			b.kick(c, "Unauthenticated request")
			return
		}
		b.kick(c, "Illegal message")
	}
}

// handleNotify processes outbound notifications and filter management.
func (b *Broker) handleNotify(c *client.Client, msg *codec.Message) {
	switch {
	case len(msg.Components) == 3 && msg.Components[1] == "OUT":
		b.broadcast(msg.Components[2])

	case len(msg.Components) == 4 && msg.Components[1] == "ADD_FILTER":
		filterType, err := strconv.Atoi(msg.Components[2])
		if err != nil || !client.ValidFilterType(filterType) {
			b.kick(c, "Illegal message")
			return
		}
		c.AddFilter(client.Filter{
			Type: client.FilterType(filterType),
			Body: msg.Components[3],
		})

	case len(msg.Components) == 2 && msg.Components[1] == "CLEAR_FILTERS":
		c.ClearFilters()

	default:
		b.kick(c, "Illegal message")
	}
}

// handleVar processes variable reads and writes.
func (b *Broker) handleVar(c *client.Client, msg *codec.Message) {
	switch {
	case len(msg.Components) == 3 && msg.Components[1] == "GET":
		name := msg.Components[2]
		value, readOnly, err := b.store.Get(name)
		if err != nil {
			b.sink.Logf(logging.Error, "Get attempted on nonexistent variable %q", name)
			b.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
			return
		}
		mode := "RW"
		if readOnly {
			mode = "RO"
		}
		b.send(c, codec.NewReply(msg.RequestID, "VAR", "VALUE", mode, fmt.Sprintf("%f", value)))

	case len(msg.Components) == 4 && msg.Components[1] == "SET":
		name := msg.Components[2]
		value, err := strconv.ParseFloat(msg.Components[3], 64)
		if err != nil {
			b.kick(c, "Illegal message")
			return
		}
		switch err := b.store.Set(name, value); {
		case errors.Is(err, vars.ErrNotFound):
			b.sink.Logf(logging.Error, "Set attempted on nonexistent variable %q", name)
			b.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		case errors.Is(err, vars.ErrReadOnly):
			b.sink.Logf(logging.Error, "Set attempted on read-only variable %q", name)
			b.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		}

	default:
		b.kick(c, "Illegal message")
	}
}

// handleWatch processes variable subscription management.
func (b *Broker) handleWatch(c *client.Client, msg *codec.Message) {
	if len(msg.Components) != 3 {
		b.kick(c, "Illegal message")
		return
	}
	name := msg.Components[2]

	switch msg.Components[1] {
	case "ADD":
		if err := b.store.Subscribe(c, name); err != nil {
			b.sink.Logf(logging.Error, "Watch attempted on nonexistent variable %q", name)
			b.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		}

	case "DEL":
		switch err := b.store.Unsubscribe(c, name); {
		case errors.Is(err, vars.ErrNotFound):
			b.sink.Logf(logging.Error, "Unwatch attempted on nonexistent variable %q", name)
			b.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		case errors.Is(err, vars.ErrNotSubscribed):
			b.sink.Logf(logging.Warning, "Client %s not subscribed to variable %q", c.Name(), name)
		}

	default:
		b.kick(c, "Illegal message")
	}
}

// handleLog appends a client log entry to the central sink. The announced
// application name doubles as the client's display name from then on.
func (b *Broker) handleLog(c *client.Client, msg *codec.Message) {
	if len(msg.Components) != 4 {
		b.kick(c, "Illegal message")
		return
	}
	c.SetName(msg.Components[1])
	level, _ := strconv.Atoi(msg.Components[2])
	b.sink.LogApp(msg.Components[1], logging.LevelFromInt(level), msg.Components[3])
}
