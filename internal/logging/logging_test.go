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


package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"Info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelError},
		{"", slog.LevelError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestJSONHandler(t *testing.T) {
	t.Setenv("ENV", "")
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "info", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("connected", slog.String("endpoint", "opc.tcp://plc:4840"))

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "connected", rec["msg"])
	assert.Equal(t, "opc.tcp://plc:4840", rec["endpoint"])
	assert.Contains(t, rec, "ts")
	assert.NotContains(t, rec, "time")
}

func TestUnknownLevelLogsErrorsOnly(t *testing.T) {
	t.Setenv("ENV", "")
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "chatty", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())
	logger.Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "debug", Format: "console", Output: &buf})
	require.NoError(t, err)

	logger.Debug("key switches", slog.String("value", "0Ah"))
	assert.Contains(t, buf.String(), "key switches")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestFileOutput(t *testing.T) {
	t.Setenv("ENV", "")
	path := filepath.Join(t.TempDir(), "keybridge.log")
	logger, closer, err := New(Options{Level: "error", File: path})
	require.NoError(t, err)

	logger.Error("disconnected from OPC UA server")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disconnected from OPC UA server")
}
