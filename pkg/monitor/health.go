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

// Package monitor provides the hub's health endpoint: registered component
// checks plus basic runtime statistics served over HTTP.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func() error

// CheckResult is the reported outcome of one health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the overall health report.
type HealthStatus struct {
	Status     string                 `json:"status"`
	UptimeSecs int64                  `json:"uptime_seconds"`
	Goroutines int                    `json:"goroutines"`
	AllocBytes uint64                 `json:"alloc_bytes"`
	Checks     map[string]CheckResult `json:"checks"`
}

// HealthChecker aggregates component health checks.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	started time.Time
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
	}
}

// RegisterCheck adds a named component check.
func (h *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Status runs every registered check and builds the overall report. The
// report is degraded when any check fails.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := HealthStatus{
		Status:     "healthy",
		UptimeSecs: int64(time.Since(h.started).Seconds()),
		Goroutines: runtime.NumGoroutine(),
		AllocBytes: mem.Alloc,
		Checks:     make(map[string]CheckResult, len(checks)),
	}
	for name, check := range checks {
		if err := check(); err != nil {
			status.Status = "degraded"
			status.Checks[name] = CheckResult{Status: "failed", Message: err.Error()}
		} else {
			status.Checks[name] = CheckResult{Status: "ok"}
		}
	}
	return status
}

// Handler returns the HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.Status()
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
}

// Serve exposes the health endpoint at /healthz until the context is
// cancelled.
func (h *HealthChecker) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/healthz", h.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Health server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
