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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovhub/rovhub/pkg/logging"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Hub.BindAddress)
	assert.Equal(t, 31427, cfg.Hub.BindPort)
	assert.Equal(t, "", cfg.Hub.Password)
	assert.Equal(t, "NORMAL", cfg.Hub.LogLevel)
	assert.True(t, cfg.Hub.LogReplicateStdout)
	assert.Equal(t, 128, cfg.Hub.MaxClients)
	assert.Equal(t, "127.0.0.1:31427", cfg.Addr())
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAML(t *testing.T) {
	yamlContent := `
hub:
  bind_address: 0.0.0.0
  bind_port: 31500
  password: secret
  var_defs: /etc/rovhub/hub.defs
  var_db: /var/lib/rovhub/hub.db
  log_level: DEBUG
  log_replicate_stdout: false
  max_clients: 16
`
	path := writeFile(t, "hub.yaml", yamlContent)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Hub.BindAddress)
	assert.Equal(t, 31500, cfg.Hub.BindPort)
	assert.Equal(t, "secret", cfg.Hub.Password)
	assert.Equal(t, "/etc/rovhub/hub.defs", cfg.Hub.VarDefs)
	assert.Equal(t, "/var/lib/rovhub/hub.db", cfg.Hub.VarDB)
	assert.Equal(t, "DEBUG", cfg.Hub.LogLevel)
	assert.False(t, cfg.Hub.LogReplicateStdout)
	assert.Equal(t, 16, cfg.Hub.MaxClients)
	assert.Equal(t, "0.0.0.0:31500", cfg.Addr())
}

func TestLoadConfigYAMLPartialKeepsDefaults(t *testing.T) {
	path := writeFile(t, "hub.yaml", "hub:\n  password: secret\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Hub.Password)
	assert.Equal(t, "127.0.0.1", cfg.Hub.BindAddress)
	assert.Equal(t, 31427, cfg.Hub.BindPort)
}

func TestLoadConfigJSON(t *testing.T) {
	jsonContent := `{"hub": {"bind_port": 31600, "password": "p", "log_level": "ERROR"}}`
	path := writeFile(t, "hub.json", jsonContent)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 31600, cfg.Hub.BindPort)
	assert.Equal(t, "ERROR", cfg.Hub.LogLevel)
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "hub.toml", "hub = 1\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "hub: [unclosed\n",
		"bad port":      "hub:\n  bind_port: -1\n",
		"bad level":     "hub:\n  log_level: CHATTY\n",
		"bad max":       "hub:\n  max_clients: 0\n",
		"empty address": "hub:\n  bind_address: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "hub.yaml", content)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestMinLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, logging.Normal, cfg.MinLogLevel())

	cfg.Hub.LogLevel = "critical"
	assert.Equal(t, logging.Critical, cfg.MinLogLevel())

	cfg.Hub.LogLevel = "bogus"
	assert.Equal(t, logging.Normal, cfg.MinLogLevel())
}
