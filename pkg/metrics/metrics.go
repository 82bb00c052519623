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

// package metrics provides Prometheus metrics for the hub.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts every accepted TCP connection.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovhub_connections_total",
		Help: "The total number of connections accepted by the hub.",
	})

	// ClientsLive tracks the current number of registered clients.
	ClientsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rovhub_clients_live",
		Help: "The current number of live client connections.",
	})

	// NotificationsRouted counts notification deliveries to individual
	// clients after filter matching.
	NotificationsRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovhub_notifications_routed_total",
		Help: "The total number of notifications delivered to clients.",
	})

	// VariableWrites counts accepted VAR SET operations.
	VariableWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovhub_variable_writes_total",
		Help: "The total number of variable writes applied.",
	})

	// WatchUpdates counts WATCH pushes sent to subscribers.
	WatchUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovhub_watch_updates_total",
		Help: "The total number of variable update pushes sent to subscribers.",
	})

	// FlushesTotal counts completed persistent database flushes.
	FlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovhub_db_flushes_total",
		Help: "The total number of persistent variable database flushes.",
	})

	// KicksTotal counts server-initiated client kicks by reason.
	KicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rovhub_kicks_total",
		Help: "The total number of clients kicked by the hub.",
	},
		[]string{"reason"},
	)

	// SupervisorRestartsTotal counts restarts of supervised background tasks.
	SupervisorRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rovhub_supervisor_restarts_total",
		Help: "The total number of times a supervised task has been restarted.",
	},
		[]string{"task_id"},
	)
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
