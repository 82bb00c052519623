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

// Package config provides configuration management for the hub: bind
// address, authentication password, variable schema and database paths, and
// log settings, loaded from a YAML or JSON file over built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/rovhub/rovhub/pkg/logging"
)

// HubConfig holds the hub's recognized settings.
type HubConfig struct {
	// BindAddress is the listen address for client connections.
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	// BindPort is the listen port for client connections.
	BindPort int `yaml:"bind_port" json:"bind_port"`
	// Password is the shared authentication secret. Connections are
	// refused while it is empty.
	Password string `yaml:"password" json:"password"`
	// VarDefs is the variable schema file path.
	VarDefs string `yaml:"var_defs" json:"var_defs"`
	// VarDB is the persistent variable database path.
	VarDB string `yaml:"var_db" json:"var_db"`
	// LogFile is the log file path; empty logs to standard output only.
	LogFile string `yaml:"log_file" json:"log_file"`
	// LogLevel is the minimum level written to the sink.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogReplicateStdout duplicates log file entries to standard output.
	LogReplicateStdout bool `yaml:"log_replicate_stdout" json:"log_replicate_stdout"`
	// MaxClients caps the number of simultaneous client connections.
	MaxClients int `yaml:"max_clients" json:"max_clients"`
	// MetricsPort is the Prometheus metrics listen address; empty
	// disables the metrics server.
	MetricsPort string `yaml:"metrics_port" json:"metrics_port"`
	// HealthPort is the health endpoint listen address; empty disables
	// the health server.
	HealthPort string `yaml:"health_port" json:"health_port"`
}

// Config holds the complete configuration.
type Config struct {
	Hub HubConfig `yaml:"hub" json:"hub"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			BindAddress:        "127.0.0.1",
			BindPort:           31427,
			Password:           "",
			VarDefs:            "rovhub_var.defs",
			VarDB:              "rovhub_var.db",
			LogFile:            "",
			LogLevel:           "NORMAL",
			LogReplicateStdout: true,
			MaxClients:         128,
			MetricsPort:        ":8082",
			HealthPort:         ":8083",
		},
	}
}

// Addr returns the client listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Hub.BindAddress, c.Hub.BindPort)
}

// MinLogLevel resolves the configured log level. Unknown names fall back to
// NORMAL.
func (c *Config) MinLogLevel() logging.Level {
	level, ok := logging.LevelFromName(c.Hub.LogLevel)
	if !ok {
		log.Printf("[WARN] Unknown log_level %q, using NORMAL", c.Hub.LogLevel)
	}
	return level
}

// LoadConfig loads configuration from a file layered over the defaults. An
// empty path or a missing file yields the defaults (with a warning for the
// latter); a malformed file is an error.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[WARN] Config file %s not found, continuing with default configuration", configPath)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("[INFO] Configuration loaded from %s", configPath)
	return config, nil
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Hub.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if config.Hub.BindPort <= 0 || config.Hub.BindPort > 0xffff {
		return fmt.Errorf("bind_port %d out of range", config.Hub.BindPort)
	}
	if config.Hub.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}
	if _, ok := logging.LevelFromName(config.Hub.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", config.Hub.LogLevel)
	}
	return nil
}
