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

package metrics

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	assert.NotNil(t, ConnectionsTotal)
	assert.NotNil(t, ClientsLive)
	assert.NotNil(t, NotificationsRouted)
	assert.NotNil(t, VariableWrites)
	assert.NotNil(t, WatchUpdates)
	assert.NotNil(t, FlushesTotal)
	assert.NotNil(t, KicksTotal)
	assert.NotNil(t, SupervisorRestartsTotal)
}

func TestMetricsEndpoint(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	t.Cleanup(func() { listener.Close() })

	// Give the server a moment to start.
	time.Sleep(100 * time.Millisecond)

	// Trigger the metrics so they appear in the output.
	ConnectionsTotal.Inc()
	KicksTotal.WithLabelValues("Authentication failure").Inc()
	SupervisorRestartsTotal.WithLabelValues("db-flusher").Inc()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "rovhub_connections_total")
	assert.Contains(t, string(body), "rovhub_kicks_total")
	assert.Contains(t, string(body), "rovhub_supervisor_restarts_total")
}
