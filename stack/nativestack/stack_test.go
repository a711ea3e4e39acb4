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

package nativestack

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

var (
	keySwitch = session.NewRef("::AsGlobalPV:KeySwitch", 6)
	key3      = session.KeyRef("::AsGlobalPV:Key3", 6, 3)
	serial    = session.NewRef("::AsGlobalPV:Serial", 6)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *opcua.Server {
	t.Helper()
	h := opcua.NewMemoryHandler()
	h.AddVariable(keySwitch.NodeID(), opcua.MustVariant(uint16(255)), true)
	h.AddVariable(key3.NodeID(), opcua.MustVariant(false), true)
	h.AddVariable(serial.NodeID(), opcua.MustVariant("KB-0001"), false)

	srv, err := opcua.NewServer("127.0.0.1:0", h,
		opcua.WithServerLogger(quietLogger()),
		opcua.WithAdvertisedHost("plc.invalid"))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

type counter struct {
	connected    atomic.Int32
	disconnected atomic.Int32
}

func (c *counter) listen(e session.Event) {
	switch e {
	case session.Connected:
		c.connected.Add(1)
	case session.Disconnected:
		c.disconnected.Add(1)
	}
}

func newManager(t *testing.T, srv *opcua.Server) (*session.Manager, *counter) {
	t.Helper()
	addr := srv.Addr().(*net.TCPAddr)

	cfg := session.DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = addr.Port
	cfg.KeepAliveInterval = 50 * time.Millisecond
	cfg.ReconnectPeriod = 50 * time.Millisecond
	cfg.PublishingInterval = 100 * time.Millisecond
	cfg.SamplingInterval = 100 * time.Millisecond

	stack := New(WithLogger(quietLogger()), WithRequestTimeout(2*time.Second))
	m, err := session.New(context.Background(), cfg, stack, session.WithLogger(quietLogger()))
	require.NoError(t, err)

	events := &counter{}
	m.Subscribe(events.listen)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, events
}

func TestManagerRoundTrip(t *testing.T) {
	srv := startServer(t)
	m, events := newManager(t, srv)
	ctx := context.Background()

	assert.Contains(t, m.Endpoint().URL, "127.0.0.1")
	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, int32(1), events.connected.Load())
	assert.Equal(t, 1, srv.SessionCount())

	info, ok := m.Subscription()
	require.True(t, ok)
	assert.Equal(t, 1, info.Items)
	assert.True(t, info.Active)

	require.NoError(t, m.Write(ctx, keySwitch, uint16(0x0A)))
	dv, err := m.Read(ctx, keySwitch)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0A), dv.Value.Value)

	require.NoError(t, m.Write(ctx, key3, true))
	dv, err = m.Read(ctx, key3)
	require.NoError(t, err)
	assert.Equal(t, true, dv.Value.Value)

	var rejected *session.WriteRejected
	require.ErrorAs(t, m.Write(ctx, serial, "x"), &rejected)
	assert.Equal(t, opcua.StatusBadNotWritable, rejected.Status)

	require.ErrorAs(t, m.Write(ctx, keySwitch, true), &rejected)
	assert.Equal(t, opcua.StatusBadTypeMismatch, rejected.Status)
}

func TestManagerRecoversTransportLoss(t *testing.T) {
	srv := startServer(t)
	m, events := newManager(t, srv)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	id := m.SessionID()

	srv.DropConnections()

	require.Eventually(t, func() bool {
		return events.connected.Load() == 2 && m.State() == session.StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), events.disconnected.Load())
	assert.Equal(t, id, m.SessionID(), "session restored on a new channel")
	assert.Equal(t, int64(1), m.Metrics().RecoveriesStarted.Value())

	info, ok := m.Subscription()
	require.True(t, ok)
	assert.Equal(t, 1, info.Items)
	assert.True(t, info.Active)

	require.NoError(t, m.Write(ctx, keySwitch, uint16(3)))
}

func TestManagerReplacesExpiredSession(t *testing.T) {
	srv := startServer(t)
	m, events := newManager(t, srv)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	id := m.SessionID()

	srv.ExpireSessions()
	srv.DropConnections()

	require.Eventually(t, func() bool {
		return events.connected.Load() == 2 && m.State() == session.StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEqual(t, id, m.SessionID())
	info, ok := m.Subscription()
	require.True(t, ok)
	assert.Equal(t, m.SessionID(), info.SessionID)
	assert.Equal(t, 1, info.Items)

	require.NoError(t, m.Write(ctx, key3, true))
}

func TestManagerDisconnect(t *testing.T) {
	srv := startServer(t)
	m, events := newManager(t, srv)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, int32(1), events.disconnected.Load())
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, m.Write(ctx, keySwitch, uint16(1)), session.ErrNoSession)
}

func TestOpenRejectsSecuredEndpoint(t *testing.T) {
	_, err := New().Open(context.Background(), session.Endpoint{
		URL:               "opc.tcp://127.0.0.1:4840",
		SecurityPolicyURI: opcua.SecurityPolicyBasic256Sha256,
		SecurityMode:      opcua.MessageSecurityModeSignAndEncrypt,
	}, session.OpenOptions{})
	assert.ErrorIs(t, err, opcua.ErrSecurityPolicyNotSupported)
}

func TestGetEndpoints(t *testing.T) {
	srv := startServer(t)
	eps, err := New(WithLogger(quietLogger())).GetEndpoints(context.Background(), "opc.tcp://"+srv.Addr().String())
	require.NoError(t, err)
	require.NotEmpty(t, eps)

	ep := eps[0]
	assert.Equal(t, opcua.SecurityPolicyNone, ep.SecurityPolicyURI)
	assert.Equal(t, opcua.MessageSecurityModeNone, ep.SecurityMode)
	assert.Contains(t, ep.URL, "plc.invalid")
}
