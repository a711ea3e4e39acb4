// Copyright 2025 Edgeo SCADA
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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

const sample = `
plc:
  address: 10.0.0.5
  port: 4841
options:
  log_level: debug
  update_interval: 50ms
variables:
  key_switch:
    name: "::AsGlobalPV:KeySwitch"
  key_matrix:
    - name: "::AsGlobalPV:Key3"
      key_index: 3
    - name: "::Panel:Key4"
      namespace: 7
      key_index: 4
session:
  reconnect_period: 2s
  max_reconnect_attempts: 5
  reconnect_backoff: 2
stack: gopcua
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(NewViper(), writeFile(t, "keybridge.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.PLC.Address)
	assert.Equal(t, 4841, cfg.PLC.Port)
	assert.Equal(t, "debug", cfg.Options.LogLevel)
	assert.Equal(t, 50*time.Millisecond, cfg.Options.UpdateInterval)
	assert.Equal(t, StackGopcua, cfg.Stack)
	assert.Equal(t, 2*time.Second, cfg.Session.ReconnectPeriod)
	assert.Equal(t, 5, cfg.Session.MaxReconnectAttempts)

	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Session.KeepAliveInterval)
	assert.Equal(t, "keybridge", cfg.Security.ApplicationName)

	assert.Equal(t, session.NewRef("::AsGlobalPV:KeySwitch", 6), cfg.Variables.KeySwitchRef())
	refs := cfg.Variables.KeyRefs()
	require.Len(t, refs, 2)
	assert.Equal(t, session.KeyRef("::AsGlobalPV:Key3", 6, 3), refs[0])
	assert.Equal(t, session.KeyRef("::Panel:Key4", 7, 4), refs[1])
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("KEYBRIDGE_PLC_PORT", "4900")
	t.Setenv("KEYBRIDGE_SESSION_RECONNECT_PERIOD", "750ms")
	t.Setenv("KEYBRIDGE_SECURITY_AUTO_ACCEPT_UNTRUSTED", "true")

	cfg, err := Load(NewViper(), writeFile(t, "keybridge.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, 4900, cfg.PLC.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.ReconnectPeriod)
	assert.True(t, cfg.Security.AutoAcceptUntrusted)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.PLC.Port = 0 }},
		{"port too large", func(c *Config) { c.PLC.Port = 70000 }},
		{"update interval", func(c *Config) { c.Options.UpdateInterval = 0 }},
		{"empty key switch", func(c *Config) { c.Variables.KeySwitch.Name = "" }},
		{"empty key name", func(c *Config) { c.Variables.KeyMatrix = []Variable{{Key: 1}} }},
		{"negative key", func(c *Config) { c.Variables.KeyMatrix = []Variable{{Name: "k", Key: -1}} }},
		{"backoff", func(c *Config) { c.Session.ReconnectBackoff = 0.5 }},
		{"stack", func(c *Config) { c.Stack = "other" }},
		{"mode", func(c *Config) { c.Security.Mode = "Encrypt" }},
		{"reconnect period", func(c *Config) { c.Session.ReconnectPeriod = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
	assert.NoError(t, Starter().Validate())
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.PLC.Address = "plc"
	cfg.Security.Mode = "SignAndEncrypt"
	cfg.Security.Policy = "Basic256Sha256"
	cfg.Security.ApplicationName = "MP7251"
	cfg.Session.MaxReconnectAttempts = 3

	s, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://plc:4840", s.ServerURL())
	assert.Equal(t, opcua.MessageSecurityModeSignAndEncrypt, s.SecurityMode)
	assert.Equal(t, "Basic256Sha256", s.SecurityPolicy)
	assert.Equal(t, "MP7251", s.SessionName)
	assert.Equal(t, 3, s.MaxReconnectAttempts)
	assert.NoError(t, s.Validate())
}

func TestWriteStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "keybridge.yaml")
	require.NoError(t, Write(path, Starter(), false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "update_interval: 100ms")
	assert.Contains(t, string(data), "key_index: 1")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, Starter(), cfg)

	assert.Error(t, Write(path, Starter(), false))
	assert.NoError(t, Write(path, Default(), true))
}
