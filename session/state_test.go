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

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	all := []State{StateDisconnected, StateConnecting, StateConnected, StateRecovering}
	allowed := map[[2]State]bool{
		{StateDisconnected, StateConnecting}: true,
		{StateConnecting, StateConnected}:    true,
		{StateConnecting, StateDisconnected}: true,
		{StateConnected, StateRecovering}:    true,
		{StateConnected, StateDisconnected}:  true,
		{StateRecovering, StateConnected}:    true,
		{StateRecovering, StateDisconnected}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			if want {
				assert.NoError(t, checkTransition(from, to))
			} else {
				assert.ErrorIs(t, checkTransition(from, to), ErrInvalidTransition)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Recovering", StateRecovering.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestNextPeriod(t *testing.T) {
	tests := []struct {
		name    string
		cur     time.Duration
		backoff float64
		ceiling time.Duration
		want    time.Duration
	}{
		{"fixed", 10 * time.Second, 1, 0, 10 * time.Second},
		{"doubling", time.Second, 2, 0, 2 * time.Second},
		{"capped", 40 * time.Second, 2, time.Minute, time.Minute},
		{"below one is fixed", time.Second, 0.5, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPeriod(tt.cur, tt.backoff, tt.ceiling))
		})
	}
}

func TestVariableRef(t *testing.T) {
	ref := NewRef("::AsGlobalPV:KeySwitch", 6)
	assert.Equal(t, -1, ref.KeyIndex)
	assert.Equal(t, "ns=6;s=::AsGlobalPV:KeySwitch", ref.NodeID().String())
	assert.Equal(t, "ns=6;s=::AsGlobalPV:KeySwitch", ref.String())

	key := KeyRef("::AsGlobalPV:Key3", 6, 3)
	assert.Equal(t, "ns=6;s=::AsGlobalPV:Key3[key 3]", key.String())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = "plc"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "opc.tcp://plc:4840", cfg.ServerURL())

	bad := cfg
	bad.Port = 70000
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ReconnectBackoff = 0.9
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxReconnectAttempts = -1
	assert.Error(t, bad.Validate())
}
