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

package opcua

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nodeKey    = NewStringNodeID(1, "Panel.Key1")
	nodeSwitch = NewStringNodeID(1, "Panel.Switch")
	nodeSerial = NewStringNodeID(1, "Panel.Serial")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *MemoryHandler) {
	t.Helper()
	h := NewMemoryHandler()
	h.AddVariable(nodeKey, MustVariant(false), true)
	h.AddVariable(nodeSwitch, MustVariant(uint16(0)), true)
	h.AddVariable(nodeSerial, MustVariant("KB-0001"), false)

	opts = append([]ServerOption{WithServerLogger(quietLogger())}, opts...)
	srv, err := NewServer("127.0.0.1:0", h, opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, h
}

func newTestClient(t *testing.T, srv *Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithRequestTimeout(2 * time.Second)}, opts...)
	c, err := NewClient(srv.EndpointURL(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientConnectAndRead(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, StateConnected, c.State())
	assert.False(t, c.SessionID().IsNull())
	assert.Equal(t, 1, srv.SessionCount())

	dv, err := c.ReadValue(ctx, NodeServerStatusState)
	require.NoError(t, err)
	assert.Equal(t, int32(ServerStateRunning), dv.Value.Value)

	dv, err = c.ReadValue(ctx, nodeSerial)
	require.NoError(t, err)
	assert.Equal(t, "KB-0001", dv.Value.Value)

	dv, err = c.ReadValue(ctx, NewStringNodeID(1, "missing"))
	require.NoError(t, err)
	assert.Equal(t, StatusBadNodeIDUnknown, dv.Status)

	// Connect on a connected client is a no-op.
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, 1, srv.SessionCount())
}

func TestClientWriteStatuses(t *testing.T) {
	srv, h := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	st, err := c.WriteValue(ctx, nodeKey, MustVariant(true))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	v, _ := h.Value(nodeKey)
	assert.Equal(t, true, v.Value)

	st, err = c.WriteValue(ctx, nodeSwitch, MustVariant(uint16(2)))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	st, err = c.WriteValue(ctx, nodeKey, MustVariant(uint16(1)))
	require.NoError(t, err)
	assert.Equal(t, StatusBadTypeMismatch, st)

	st, err = c.WriteValue(ctx, nodeSerial, MustVariant("x"))
	require.NoError(t, err)
	assert.Equal(t, StatusBadNotWritable, st)

	st, err = c.WriteValue(ctx, NewStringNodeID(1, "missing"), MustVariant(true))
	require.NoError(t, err)
	assert.Equal(t, StatusBadNodeIDUnknown, st)

	assert.Equal(t, int64(5), srv.Metrics().Writes.Value())
	assert.Positive(t, c.Metrics().ForService(ServiceWrite).Requests.Value())
}

func TestClientNotConnected(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)

	_, err := c.ReadValue(ctx, nodeKey)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Close(ctx))
	_, err = c.WriteValue(ctx, nodeKey, MustVariant(true))
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Connect(ctx), ErrClientClosed)
}

func TestClientConnectRefused(t *testing.T) {
	c, err := NewClient("opc.tcp://127.0.0.1:1", WithLogger(quietLogger()))
	require.NoError(t, err)

	err = c.Connect(testContext(t))
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientCloseDeletesSession(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))
	require.Equal(t, 1, srv.SessionCount())

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StateClosed, c.State())
	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close(ctx))
}

func TestSubscriptionDeliversChanges(t *testing.T) {
	srv, h := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	changes := make(chan DataChange, 64)
	sub, err := c.Subscribe(ctx, SubscriptionParameters{Interval: 100 * time.Millisecond}, func(dc DataChange) {
		changes <- dc
	})
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, sub.Parameters().Interval)

	_, err = sub.Monitor(ctx,
		MonitorItem{NodeID: NodeServerStatusCurrentTime, ClientHandle: 1, SamplingInterval: 100 * time.Millisecond, QueueSize: 10, DiscardOldest: true},
		MonitorItem{NodeID: nodeKey, ClientHandle: 2},
	)
	require.NoError(t, err)

	seen := map[uint32]int{}
	deadline := time.After(3 * time.Second)
	for seen[1] < 2 || seen[2] < 1 {
		select {
		case dc := <-changes:
			assert.Equal(t, sub.ID(), dc.SubscriptionID)
			seen[dc.ClientHandle]++
		case <-deadline:
			t.Fatalf("notifications missing: %v", seen)
		}
	}

	h.SetValue(nodeKey, MustVariant(true))
	for {
		select {
		case dc := <-changes:
			if dc.ClientHandle == 2 {
				assert.Equal(t, true, dc.Value.Value.Value)
				require.NoError(t, sub.Cancel(ctx))
				assert.False(t, sub.Active())
				return
			}
		case <-deadline:
			t.Fatal("key change not delivered")
		}
	}
}

func TestMonitorUnknownNode(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	sub, err := c.Subscribe(ctx, SubscriptionParameters{Interval: time.Second}, nil)
	require.NoError(t, err)
	res, err := sub.Monitor(ctx, MonitorItem{NodeID: NewStringNodeID(1, "missing"), ClientHandle: 1})
	assert.ErrorIs(t, err, StatusBadNodeIDUnknown)
	require.Len(t, res, 1)
	assert.Equal(t, StatusBadNodeIDUnknown, res[0].StatusCode)
}

func collectKeepAlives() (chan KeepAlive, func(KeepAlive)) {
	ch := make(chan KeepAlive, 256)
	return ch, func(ka KeepAlive) {
		select {
		case ch <- ka:
		default:
		}
	}
}

func waitKeepAlive(t *testing.T, ch chan KeepAlive, match func(KeepAlive) bool) KeepAlive {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ka := <-ch:
			if match(ka) {
				return ka
			}
		case <-deadline:
			t.Fatal("keepalive not observed")
		}
	}
}

func TestKeepAliveReportsServerState(t *testing.T) {
	srv, h := newTestServer(t)
	kas, fn := collectKeepAlives()
	c := newTestClient(t, srv, WithKeepAlive(50*time.Millisecond, fn))
	require.NoError(t, c.Connect(testContext(t)))

	ka := waitKeepAlive(t, kas, func(KeepAlive) bool { return true })
	assert.True(t, ka.Good())

	h.SetServerState(ServerStateShutdown)
	ka = waitKeepAlive(t, kas, func(ka KeepAlive) bool { return ka.ServerState == ServerStateShutdown })
	assert.False(t, ka.Good())
	assert.True(t, ka.Status.IsGood())
}

func TestTransportLossAndRestore(t *testing.T) {
	srv, _ := newTestServer(t)
	kas, fn := collectKeepAlives()
	c := newTestClient(t, srv, WithKeepAlive(time.Hour, fn))
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))
	sessionID := c.SessionID()

	sub, err := c.Subscribe(ctx, SubscriptionParameters{Interval: 100 * time.Millisecond}, nil)
	require.NoError(t, err)

	srv.DropConnections()

	ka := waitKeepAlive(t, kas, func(ka KeepAlive) bool { return ka.Status.IsBad() })
	assert.Equal(t, StatusBadConnectionClosed, ka.Status)
	assert.Equal(t, StateDisconnected, c.State())

	restored, err := c.Reconnect(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.True(t, sessionID.Equal(c.SessionID()))
	assert.True(t, sub.Active())
	assert.Equal(t, int64(1), c.Metrics().Restores.Value())

	_, err = c.ReadValue(ctx, nodeKey)
	require.NoError(t, err)
}

func TestReconnectCreatesNewSession(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))
	sessionID := c.SessionID()

	sub, err := c.Subscribe(ctx, SubscriptionParameters{Interval: 100 * time.Millisecond}, nil)
	require.NoError(t, err)

	srv.ExpireSessions()
	srv.DropConnections()

	restored, err := c.Reconnect(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.False(t, sessionID.Equal(c.SessionID()))
	assert.False(t, sub.Active())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, int64(1), c.Metrics().Reconnects.Value())
}

func TestGetEndpointsAdvertisedHost(t *testing.T) {
	srv, _ := newTestServer(t, WithAdvertisedHost("plc-panel.local"))

	addr := srv.Addr().String()
	eps, err := GetEndpoints(testContext(t), "opc.tcp://"+addr, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.True(t, strings.HasPrefix(eps[0].EndpointURL, "opc.tcp://plc-panel.local:"), eps[0].EndpointURL)
	assert.Equal(t, MessageSecurityModeNone, eps[0].SecurityMode)
	assert.Equal(t, "anonymous", eps[0].AnonymousPolicyID())
	assert.Zero(t, srv.SessionCount())
}

func TestServerCertificateValidation(t *testing.T) {
	id, err := GenerateIdentity("plc", "localhost", time.Hour)
	require.NoError(t, err)
	srv, _ := newTestServer(t, WithServerIdentity(id))

	pki := t.TempDir()
	store, err := NewTrustStore(pki, false, quietLogger())
	require.NoError(t, err)

	c := newTestClient(t, srv, WithCertificateValidator(store))
	err = c.Connect(testContext(t))
	require.ErrorIs(t, err, ErrCertificateUntrusted)

	rejected, err := os.ReadDir(filepath.Join(pki, "rejected"))
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	require.NoError(t, store.Trust(id.CertificateDER))
	c2 := newTestClient(t, srv, WithCertificateValidator(store))
	require.NoError(t, c2.Connect(testContext(t)))
	assert.Equal(t, id.CertificateDER, c2.ServerCertificate())
}
