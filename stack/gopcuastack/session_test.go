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
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// detachedSession is a Session whose client is gone, as after a failed
// reconnect.
func detachedSession(ep session.Endpoint, o session.OpenOptions) *Session {
	return &Session{
		stack:  New(WithLogger(quietLogger()), WithRequestTimeout(time.Second)),
		ep:     ep,
		opts:   o,
		id:     "sess-1",
		done:   make(chan struct{}),
		logger: quietLogger(),
	}
}

func TestKeepAliveLoopReportsLostClient(t *testing.T) {
	got := make(chan session.KeepAlive, 1)
	s := detachedSession(session.Endpoint{}, session.OpenOptions{
		KeepAliveInterval: 5 * time.Millisecond,
		OnKeepAlive: func(ka session.KeepAlive) {
			select {
			case got <- ka:
			default:
			}
		},
	})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.keepAliveLoop()
	}()

	select {
	case ka := <-got:
		assert.False(t, ka.Good())
		assert.Equal(t, opcua.StatusBadNotConnected, ka.Status)
		assert.Equal(t, opcua.ServerStateUnknown, ka.ServerState)
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive signal")
	}

	require.NoError(t, s.Close(context.Background()))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive loop still running after Close")
	}
}

func TestKeepAliveCallbackPanicRecovered(t *testing.T) {
	var calls atomic.Int32
	s := detachedSession(session.Endpoint{}, session.OpenOptions{
		KeepAliveInterval: 5 * time.Millisecond,
		OnKeepAlive: func(session.KeepAlive) {
			calls.Add(1)
			panic("listener bug")
		},
	})
	go s.keepAliveLoop()
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectFailureInvalidatesSubscriptions(t *testing.T) {
	s := detachedSession(session.Endpoint{
		URL:               "opc.tcp://127.0.0.1:4840",
		SecurityPolicyURI: opcua.SecurityPolicyBasic256Sha256,
		SecurityMode:      opcua.MessageSecurityModeSignAndEncrypt,
	}, session.OpenOptions{})
	sub := &Subscription{stop: make(chan struct{}), logger: quietLogger()}
	sub.active.Store(true)
	s.subs = []*Subscription{sub}

	restored, err := s.Reconnect(context.Background())
	assert.ErrorIs(t, err, opcua.ErrSecurityPolicyNotSupported)
	assert.False(t, restored)
	assert.False(t, sub.Active())
	assert.Equal(t, "sess-1", s.ID())

	err = sub.Monitor(context.Background(), session.MonitoredItem{NodeID: opcua.NodeServerStatusCurrentTime})
	assert.ErrorIs(t, err, opcua.ErrSubscriptionNotFound)

	// A later Reconnect still runs; only Close ends the session.
	_, err = s.Reconnect(context.Background())
	assert.ErrorIs(t, err, opcua.ErrSecurityPolicyNotSupported)
	require.NoError(t, s.Close(context.Background()))
	_, err = s.Reconnect(context.Background())
	assert.ErrorIs(t, err, opcua.ErrClientClosed)
}
