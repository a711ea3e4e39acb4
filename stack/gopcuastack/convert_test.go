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


package gopcuastack

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

func TestNodeIDConversion(t *testing.T) {
	id, err := toUANodeID(opcua.NewNumericNodeID(0, 2258))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id.Namespace())
	assert.Equal(t, uint32(2258), id.IntID())

	id, err = toUANodeID(session.NewRef("::AsGlobalPV:KeySwitch", 6).NodeID())
	require.NoError(t, err)
	assert.Equal(t, uint16(6), id.Namespace())
	assert.Equal(t, "::AsGlobalPV:KeySwitch", id.StringID())
}

func TestVariantConversion(t *testing.T) {
	v, err := toUAVariant(opcua.MustVariant(uint16(10)))
	require.NoError(t, err)
	assert.Equal(t, uint16(10), v.Value())

	back, err := fromUAVariant(v)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), back.Value)

	v, err = toUAVariant(opcua.MustVariant(true))
	require.NoError(t, err)
	assert.Equal(t, true, v.Value())

	_, err = toUAVariant(nil)
	assert.Error(t, err)
	_, err = toUAVariant(&opcua.Variant{IsArray: true})
	assert.Error(t, err)

	back, err = fromUAVariant(nil)
	require.NoError(t, err)
	assert.Nil(t, back)
}

func TestDataValueConversion(t *testing.T) {
	now := time.Now()
	dv, err := fromUADataValue(&ua.DataValue{
		Value:           ua.MustVariant(int32(0)),
		Status:          ua.StatusOK,
		ServerTimestamp: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), dv.Value.Value)
	assert.True(t, dv.Status.IsGood())
	assert.Equal(t, now, dv.ServerTimestamp)
}

func TestEndpointConversion(t *testing.T) {
	ep := session.Endpoint{
		URL:               "opc.tcp://plc:4840",
		SecurityPolicyURI: opcua.SecurityPolicyNone,
		SecurityMode:      opcua.MessageSecurityModeNone,
		SecurityLevel:     1,
	}
	desc := toUAEndpoint(ep)
	assert.Equal(t, ua.MessageSecurityModeNone, desc.SecurityMode)
	require.Len(t, desc.UserIdentityTokens, 1)
	assert.Equal(t, "anonymous", desc.UserIdentityTokens[0].PolicyID)

	back := fromUAEndpoint(desc)
	assert.Equal(t, ep.URL, back.URL)
	assert.Equal(t, ep.SecurityPolicyURI, back.SecurityPolicyURI)
	assert.Equal(t, ep.SecurityMode, back.SecurityMode)
	assert.Equal(t, "anonymous", back.UserTokenPolicyID)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, opcua.StatusBadTimeout, statusOf(fmt.Errorf("read: %w", ua.StatusBadTimeout)))
	assert.Equal(t, opcua.StatusBadNotConnected, statusOf(opcua.ErrNotConnected))
	assert.Equal(t, opcua.StatusOK, statusOf(nil))
}

func TestSecuredEndpointNeedsIdentity(t *testing.T) {
	_, err := New().Open(context.Background(), session.Endpoint{
		URL:               "opc.tcp://127.0.0.1:4840",
		SecurityPolicyURI: opcua.SecurityPolicyBasic256Sha256,
		SecurityMode:      opcua.MessageSecurityModeSignAndEncrypt,
	}, session.OpenOptions{})
	assert.ErrorIs(t, err, opcua.ErrSecurityPolicyNotSupported)
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	s := &Session{stack: New(), done: make(chan struct{}), closed: true}
	_, err := s.Read(context.Background(), opcua.NodeServerStatusState)
	assert.ErrorIs(t, err, opcua.ErrNotConnected)

	sc, err := s.Write(context.Background(), opcua.NodeServerStatusState, opcua.MustVariant(int32(0)))
	assert.ErrorIs(t, err, opcua.ErrNotConnected)
	assert.Equal(t, opcua.StatusBadNotConnected, sc)

	_, err = s.Reconnect(context.Background())
	assert.ErrorIs(t, err, opcua.ErrClientClosed)
	assert.NoError(t, s.Close(context.Background()))
}
