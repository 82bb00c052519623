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

// package main is the entrypoint for the rovhub broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rovhub/rovhub/pkg/broker"
	"github.com/rovhub/rovhub/pkg/config"
	"github.com/rovhub/rovhub/pkg/logging"
	"github.com/rovhub/rovhub/pkg/metrics"
	"github.com/rovhub/rovhub/pkg/monitor"
	"github.com/rovhub/rovhub/pkg/registry"
	"github.com/rovhub/rovhub/pkg/supervisor"
	"github.com/rovhub/rovhub/pkg/vars"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "rovhub",
		Short:        "Central broker for distributed robotics applications",
		Long:         "rovhub is the central broker of a small distributed robotics framework:\napplications connect over TCP to exchange notifications, shared variables,\nand log entries.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML or JSON)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	sink, err := logging.NewSink(logging.Options{
		FilePath:        cfg.Hub.LogFile,
		MinLevel:        cfg.MinLogLevel(),
		ReplicateStdout: cfg.Hub.LogReplicateStdout,
	})
	if err != nil {
		// The sink fell back to standard output; keep going.
		sink.Logf(logging.Error, "Could not open log file: %v", err)
	}
	defer sink.Close()

	store, err := vars.New(cfg.Hub.VarDefs, cfg.Hub.VarDB, sink)
	if err != nil {
		sink.Logf(logging.Critical, "Variable store initialization failed: %v", err)
		return err
	}

	reg := registry.New(store, cfg.Hub.MaxClients)
	b := broker.New(cfg, reg, store, sink)

	health := monitor.NewHealthChecker()
	health.RegisterCheck("listener", b.Healthy)

	// A signal cancels the serve context; background tasks live on until
	// the engine has drained so the reaper and flusher can finish their
	// work.
	serveCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	sup := supervisor.NewOneForOneSupervisor()
	sup.StartChild(bgCtx, supervisor.Spec{
		ID:      "reaper",
		Task:    supervisor.TaskFunc(reg.RunReaper),
		Restart: supervisor.RestartPermanent,
	})
	if store.HasPersistent() {
		sup.StartChild(bgCtx, supervisor.Spec{
			ID:      "db-flusher",
			Task:    supervisor.TaskFunc(store.RunFlusher),
			Restart: supervisor.RestartTransient,
		})
	}
	if cfg.Hub.HealthPort != "" {
		sup.StartChild(bgCtx, supervisor.Spec{
			ID: "health",
			Task: supervisor.TaskFunc(func(ctx context.Context) error {
				return health.Serve(ctx, cfg.Hub.HealthPort)
			}),
			Restart: supervisor.RestartTransient,
		})
	}
	if cfg.Hub.MetricsPort != "" {
		go metrics.Serve(cfg.Hub.MetricsPort)
	}

	err = b.ListenAndServe(serveCtx)

	// Ordered shutdown: the engine has kicked every client and joined its
	// reader tasks. Stop the background tasks (the flusher performs one
	// final flush), then close the sink.
	bgCancel()
	sup.Wait()
	sink.Log(logging.Info, "Hub shut down")
	return err
}
