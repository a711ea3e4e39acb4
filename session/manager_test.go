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
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/keybridge/opcua"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "plc"
	cfg.ReconnectPeriod = 20 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg Config, stack *fakeStack, opts ...Option) (*Manager, *recorder) {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	m, err := New(context.Background(), cfg, stack, opts...)
	require.NoError(t, err)

	rec := &recorder{}
	m.Subscribe(rec.listen)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, rec
}

func connected(t *testing.T, cfg Config) (*Manager, *fakeStack, *fakeSession, *recorder) {
	t.Helper()
	stack := newFakeStack()
	m, rec := newTestManager(t, cfg, stack)
	require.NoError(t, m.Connect(context.Background()))
	return m, stack, stack.session(0), rec
}

func TestNewSelectsEndpoint(t *testing.T) {
	stack := newFakeStack()
	stack.endpoints = []Endpoint{
		{URL: "opc.tcp://plc-internal:4840/ua", SecurityPolicyURI: opcua.SecurityPolicyNone, SecurityMode: opcua.MessageSecurityModeNone, SecurityLevel: 0},
		{URL: "opc.tcp://plc-internal:4840/ua", SecurityPolicyURI: opcua.SecurityPolicyNone, SecurityMode: opcua.MessageSecurityModeNone, SecurityLevel: 3, UserTokenPolicyID: "anon"},
		{URL: "opc.tcp://plc-internal:4840/ua", SecurityPolicyURI: opcua.SecurityPolicyBasic256Sha256, SecurityMode: opcua.MessageSecurityModeSign, SecurityLevel: 10},
	}

	cfg := testConfig()
	cfg.Address = "10.0.0.5"
	cfg.Port = 4841
	m, err := New(context.Background(), cfg, stack, WithLogger(quietLogger()))
	require.NoError(t, err)

	assert.Equal(t, "opc.tcp://10.0.0.5:4841", stack.endpointsURL)
	ep := m.Endpoint()
	assert.Equal(t, "opc.tcp://10.0.0.5:4841/ua", ep.URL)
	assert.Equal(t, uint8(3), ep.SecurityLevel)
	assert.Equal(t, "anon", ep.UserTokenPolicyID)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestNewResolutionFailure(t *testing.T) {
	t.Run("GetEndpoints fails", func(t *testing.T) {
		stack := newFakeStack()
		stack.endpointsErr = errFake
		_, err := New(context.Background(), testConfig(), stack, WithLogger(quietLogger()))

		require.ErrorIs(t, err, ErrResolution)
		require.ErrorIs(t, err, errFake)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "opc.tcp://plc:4840", re.URL)
	})

	t.Run("no matching endpoint", func(t *testing.T) {
		stack := newFakeStack()
		cfg := testConfig()
		cfg.SecurityPolicy = "Basic256Sha256"
		cfg.SecurityMode = opcua.MessageSecurityModeSignAndEncrypt
		_, err := New(context.Background(), cfg, stack, WithLogger(quietLogger()))
		assert.ErrorIs(t, err, ErrResolution)
	})

	t.Run("no address", func(t *testing.T) {
		cfg := testConfig()
		cfg.Address = ""
		_, err := New(context.Background(), cfg, newFakeStack(), WithLogger(quietLogger()))
		assert.ErrorIs(t, err, ErrResolution)
	})
}

type staticDiscoverer struct {
	url string
	err error
}

func (d staticDiscoverer) Discover(context.Context) (string, error) { return d.url, d.err }

func TestNewUsesDiscoverer(t *testing.T) {
	stack := newFakeStack()
	cfg := testConfig()
	cfg.Address = ""
	m, err := New(context.Background(), cfg, stack,
		WithLogger(quietLogger()),
		WithDiscoverer(staticDiscoverer{url: "opc.tcp://plc.local:4842"}))
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://plc.local:4842", stack.endpointsURL)
	assert.Equal(t, "opc.tcp://plc.local:4842", m.Endpoint().URL)

	_, err = New(context.Background(), cfg, stack,
		WithLogger(quietLogger()),
		WithDiscoverer(staticDiscoverer{err: errFake}))
	assert.ErrorIs(t, err, ErrResolution)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBackoff = 0.5
	_, err := New(context.Background(), cfg, newFakeStack())
	assert.Error(t, err)
}

// Connect within the session timeout raises Connected once and leaves one
// subscription with the liveness item.
func TestConnect(t *testing.T) {
	m, stack, sess, rec := connected(t, testConfig())

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []Event{Connected}, rec.all())
	assert.Equal(t, 5*time.Second, stack.lastOpts.Timeout)
	assert.Equal(t, 5*time.Second, stack.lastOpts.KeepAliveInterval)
	assert.Equal(t, "keybridge", stack.lastOpts.SessionName)
	assert.Equal(t, "sess-1", m.SessionID())

	subs := sess.subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, time.Second, subs[0].params.PublishingInterval)
	assert.Zero(t, subs[0].params.LifetimeCount)
	assert.True(t, subs[0].params.PublishingEnabled)

	require.Equal(t, 1, subs[0].ItemCount())
	item := subs[0].items[0]
	assert.True(t, item.NodeID.Equal(opcua.NewNumericNodeID(0, 2258)))
	assert.Equal(t, time.Second, item.SamplingInterval)
	assert.Equal(t, uint32(10), item.QueueSize)
	assert.True(t, item.DiscardOldest)

	info, ok := m.Subscription()
	require.True(t, ok)
	assert.Equal(t, 1, info.Items)
	assert.Equal(t, "sess-1", info.SessionID)
}

func TestConnectReplacesLiveSession(t *testing.T) {
	m, stack, first, rec := connected(t, testConfig())

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, first.isClosed())
	assert.True(t, first.subscriptions()[0].wasCancelled())
	assert.Equal(t, 2, stack.opened())
	assert.Equal(t, []Event{Connected, Disconnected, Connected}, rec.all())
}

func TestConnectFailure(t *testing.T) {
	stack := newFakeStack()
	stack.openErr = errFake
	m, rec := newTestManager(t, testConfig(), stack)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrSessionCreationFailed)
	require.ErrorIs(t, err, errFake)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, rec.all())

	stack.mu.Lock()
	stack.openErr = nil
	stack.mu.Unlock()
	require.NoError(t, m.Connect(context.Background()))
}

func TestConnectTimeout(t *testing.T) {
	stack := newFakeStack()
	stack.openBlocks = true
	cfg := testConfig()
	cfg.SessionTimeout = 30 * time.Millisecond
	m, _ := newTestManager(t, cfg, stack)

	start := time.Now()
	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrSessionCreationFailed)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectAfterClose(t *testing.T) {
	m, _ := newTestManager(t, testConfig(), newFakeStack())
	require.NoError(t, m.Close(context.Background()))
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
}

// Three bad keepalives inside 50 ms create one handle; after the restore
// Connected fires again and the handle is gone.
func TestBadKeepAlivesRecoverOnce(t *testing.T) {
	m, _, sess, rec := connected(t, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.keepAlive(opcua.StatusBadConnectionClosed)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), m.Metrics().RecoveriesStarted.Value())
	assert.Equal(t, int64(3), m.Metrics().KeepAliveBad.Value())

	require.Eventually(t, func() bool {
		return m.State() == StateConnected && !m.Recovering()
	}, waitFor, tick)

	assert.Equal(t, []Event{Connected, Disconnected, Connected}, rec.all())
	assert.Equal(t, int64(1), m.Metrics().RecoveriesSucceeded.Value())
	assert.Equal(t, int32(1), sess.reconnects.Load())

	subs := sess.subscriptions()
	require.Len(t, subs, 1, "restored session keeps its subscription")
	assert.Equal(t, 1, subs[0].ItemCount())
}

func TestConcurrentBadKeepAlivesStartOneRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectPeriod = time.Hour
	m, _, sess, rec := connected(t, cfg)

	const n = 64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sess.keepAlive(opcua.StatusBadTimeout)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), m.Metrics().RecoveriesStarted.Value())
	assert.Equal(t, int64(n), m.Metrics().KeepAliveBad.Value())
	assert.Equal(t, 1, rec.count(Disconnected))
	assert.Equal(t, StateRecovering, m.State())
	assert.True(t, m.Recovering())
}

func TestGoodKeepAliveUpdatesLastSeen(t *testing.T) {
	m, _, sess, rec := connected(t, testConfig())
	before := m.LastKeepAlive()

	time.Sleep(2 * time.Millisecond)
	sess.keepAlive(opcua.StatusOK)

	assert.True(t, m.LastKeepAlive().After(before))
	assert.Equal(t, StateConnected, m.State())
	assert.Zero(t, m.Metrics().RecoveriesStarted.Value())
	assert.Equal(t, []Event{Connected}, rec.all())
}

func TestServerStateNotRunningIsBad(t *testing.T) {
	m, _, sess, _ := connected(t, testConfig())

	sess.onKeepAlive(KeepAlive{Status: opcua.StatusOK, ServerState: opcua.ServerStateShutdown})
	assert.Equal(t, int64(1), m.Metrics().RecoveriesStarted.Value())
}

func TestRecoveryWithReplacementSession(t *testing.T) {
	m, _, sess, rec := connected(t, testConfig())
	sess.mu.Lock()
	sess.restore = false
	sess.mu.Unlock()

	sess.keepAlive(opcua.StatusBadSessionIDInvalid)
	require.Eventually(t, func() bool {
		return rec.count(Connected) == 2
	}, waitFor, tick)

	assert.Equal(t, "sess-1-r1", m.SessionID())
	subs := sess.subscriptions()
	require.Len(t, subs, 2)
	assert.False(t, subs[0].Active())
	assert.True(t, subs[1].Active())

	info, ok := m.Subscription()
	require.True(t, ok)
	assert.Equal(t, "sess-1-r1", info.SessionID)
	assert.Equal(t, 1, info.Items)
}

func TestStaleKeepAliveIgnored(t *testing.T) {
	m, stack, first, _ := connected(t, testConfig())
	require.NoError(t, m.Disconnect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, 2, stack.opened())

	first.keepAlive(opcua.StatusBadConnectionClosed)

	assert.Equal(t, StateConnected, m.State())
	assert.Zero(t, m.Metrics().RecoveriesStarted.Value())
	assert.Equal(t, "sess-2", m.SessionID())
}

func TestKeepAliveFaultsCounted(t *testing.T) {
	stack := newFakeStack()
	logger := slog.New(panicHandler{
		Handler: quietLogger().Handler(),
		msg:     "keepalive failed, starting recovery",
	})
	m, rec := newTestManager(t, testConfig(), stack, WithLogger(logger))
	require.NoError(t, m.Connect(context.Background()))

	assert.NotPanics(t, func() {
		stack.session(0).keepAlive(opcua.StatusBadConnectionClosed)
	})
	assert.Equal(t, int64(1), m.Metrics().KeepAliveFaults.Value())

	// The recovery was started before the fault and still completes.
	require.Eventually(t, func() bool {
		return rec.count(Connected) == 2
	}, waitFor, tick)
	assert.Equal(t, StateConnected, m.State())
}

func TestRecoveryRetriesUntilSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectPeriod = 5 * time.Millisecond
	m, _, sess, rec := connected(t, cfg)
	sess.setReconnectErr(errFake)

	sess.keepAlive(opcua.StatusBadConnectionClosed)
	require.Eventually(t, func() bool {
		return sess.reconnects.Load() >= 3
	}, waitFor, tick)
	assert.Equal(t, StateRecovering, m.State())

	sess.setReconnectErr(nil)
	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, waitFor, tick)
	assert.Equal(t, 2, rec.count(Connected))
	assert.GreaterOrEqual(t, m.Metrics().ReconnectAttempts.Value(), int64(4))
}

func TestRecoveryAbandoned(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectPeriod = 5 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	m, _, sess, _ := connected(t, cfg)
	sess.setReconnectErr(errFake)

	sess.keepAlive(opcua.StatusBadConnectionClosed)
	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, waitFor, tick)

	assert.False(t, m.Recovering())
	assert.Equal(t, int64(1), m.Metrics().RecoveriesAbandoned.Value())
	assert.Equal(t, int64(3), m.Metrics().ReconnectAttempts.Value())
	assert.Equal(t, int32(3), sess.reconnects.Load())
	require.Eventually(t, sess.isClosed, waitFor, tick)
	assert.ErrorIs(t, m.Write(context.Background(), NewRef("X", 1), true), ErrNoSession)

	// A later Connect starts from scratch.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
}

func TestDisconnectCancelsRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectPeriod = 5 * time.Millisecond
	m, _, sess, rec := connected(t, cfg)
	sess.setReconnectErr(errFake)

	sess.keepAlive(opcua.StatusBadConnectionClosed)
	require.Eventually(t, func() bool {
		return sess.reconnects.Load() >= 1
	}, waitFor, tick)

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.Recovering())
	assert.True(t, sess.isClosed())

	attempts := sess.reconnects.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, attempts, sess.reconnects.Load(), "no attempts after Disconnect")
	assert.Equal(t, []Event{Connected, Disconnected, Disconnected}, rec.all())
}

// A Disconnect that lands while a recovery re-attaches its subscription
// wins: no Connected follows, and the new subscription is deleted.
func TestDisconnectDuringRecoveryAttach(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectPeriod = time.Millisecond
	m, _, sess, rec := connected(t, cfg)
	sess.setRestore(false)
	entered, release := sess.holdSubscribe()
	defer release()

	sess.keepAlive(opcua.StatusBadSessionIDInvalid)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("recovery did not re-attach the subscription")
	}
	assert.ErrorIs(t, m.Write(context.Background(), NewRef("X", 1), true), ErrRecovering)

	done := make(chan error, 1)
	go func() { done <- m.Disconnect(context.Background()) }()
	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, waitFor, tick)
	release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Disconnect did not return")
	}

	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.Recovering())
	assert.True(t, sess.isClosed())
	assert.Zero(t, m.Metrics().RecoveriesSucceeded.Value())

	events := rec.all()
	assert.Equal(t, []Event{Connected, Disconnected, Disconnected}, events)
	assert.Equal(t, Disconnected, events[len(events)-1])

	_, ok := m.Subscription()
	assert.False(t, ok)
	subs := sess.subscriptions()
	require.Len(t, subs, 2)
	assert.True(t, subs[1].wasCancelled())
	for _, sub := range subs {
		assert.False(t, sub.Active())
	}
}

// A Disconnect while Connect creates the subscription leaves no Connected
// event and no subscription behind.
func TestDisconnectDuringConnectAttach(t *testing.T) {
	stack := newFakeStack()
	gate := make(chan struct{})
	subscribing := make(chan struct{}, 1)
	stack.onOpen = func(s *fakeSession) {
		s.subscribeGate = gate
		s.subscribing = subscribing
	}
	m, rec := newTestManager(t, testConfig(), stack)

	connectDone := make(chan error, 1)
	go func() { connectDone <- m.Connect(context.Background()) }()
	select {
	case <-subscribing:
	case <-time.After(waitFor):
		t.Fatal("Connect did not create the subscription")
	}

	disconnectDone := make(chan error, 1)
	go func() { disconnectDone <- m.Disconnect(context.Background()) }()
	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, waitFor, tick)
	close(gate)

	for _, ch := range []chan error{connectDone, disconnectDone} {
		select {
		case err := <-ch:
			if ch == connectDone {
				assert.ErrorIs(t, err, ErrNoSession)
			} else {
				assert.NoError(t, err)
			}
		case <-time.After(waitFor):
			t.Fatal("call did not return")
		}
	}

	sess := stack.session(0)
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, sess.isClosed())
	assert.Equal(t, []Event{Disconnected}, rec.all())
	_, ok := m.Subscription()
	assert.False(t, ok)
	subs := sess.subscriptions()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].wasCancelled())
}

// Disconnected is delivered before the Connected of the same recovery
// cycle, even when a listener is slow and the retry period is short.
func TestRecoveryEventsInOrder(t *testing.T) {
	stack := newFakeStack()
	cfg := testConfig()
	cfg.ReconnectPeriod = time.Millisecond
	m, err := New(context.Background(), cfg, stack, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	m.Subscribe(func(e Event) {
		if e == Disconnected {
			time.Sleep(50 * time.Millisecond)
		}
	})
	rec := &recorder{}
	m.Subscribe(rec.listen)

	require.NoError(t, m.Connect(context.Background()))
	stack.session(0).keepAlive(opcua.StatusBadConnectionClosed)

	require.Eventually(t, func() bool {
		return rec.count(Connected) == 2
	}, waitFor, tick)
	assert.Equal(t, []Event{Connected, Disconnected, Connected}, rec.all())
	assert.Equal(t, StateConnected, m.State())
}

// A listener that reacts to Connected by reporting a bad keepalive does
// not deadlock, and the events still follow the state.
func TestListenerMayReenterManager(t *testing.T) {
	stack := newFakeStack()
	cfg := testConfig()
	cfg.ReconnectPeriod = time.Millisecond
	m, rec := newTestManager(t, cfg, stack)

	var once sync.Once
	m.Subscribe(func(e Event) {
		if e == Connected {
			once.Do(func() { stack.session(0).keepAlive(opcua.StatusBadTimeout) })
		}
	})

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return rec.count(Connected) == 2
	}, waitFor, tick)

	assert.Equal(t, []Event{Connected, Disconnected, Connected}, rec.all())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, int64(1), m.Metrics().RecoveriesStarted.Value())
}

func TestDisconnect(t *testing.T) {
	m, _, sess, rec := connected(t, testConfig())

	require.NoError(t, m.Disconnect(context.Background()))
	assert.True(t, sess.isClosed())
	assert.True(t, sess.subscriptions()[0].wasCancelled())
	assert.Equal(t, StateDisconnected, m.State())
	_, ok := m.Subscription()
	assert.False(t, ok)

	// Without a session there is nothing to report.
	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, []Event{Connected, Disconnected}, rec.all())
}

func TestWriteWithoutSession(t *testing.T) {
	stack := newFakeStack()
	m, _ := newTestManager(t, testConfig(), stack)

	err := m.Write(context.Background(), NewRef("::AsGlobalPV:KeySwitch", 6), uint16(0x0A))
	assert.ErrorIs(t, err, ErrNoSession)
	assert.NotErrorIs(t, err, ErrRecovering)
	assert.Zero(t, stack.opened())
}

func TestWriteWhileRecovering(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectPeriod = time.Hour
	m, _, sess, _ := connected(t, cfg)

	sess.keepAlive(opcua.StatusBadConnectionClosed)
	err := m.Write(context.Background(), NewRef("::AsGlobalPV:KeySwitch", 6), uint16(0x0A))
	assert.ErrorIs(t, err, ErrRecovering)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, sess.writes.Load())

	_, err = m.Read(context.Background(), NewRef("::AsGlobalPV:KeySwitch", 6))
	assert.ErrorIs(t, err, ErrRecovering)
}

func TestWriteKeySwitch(t *testing.T) {
	m, _, sess, _ := connected(t, testConfig())

	ref := NewRef("::AsGlobalPV:KeySwitch", 6)
	require.NoError(t, m.Write(context.Background(), ref, 0x0A))

	sess.mu.Lock()
	v := sess.values["ns=6;s=::AsGlobalPV:KeySwitch"]
	sess.mu.Unlock()
	require.NotNil(t, v)
	assert.Equal(t, int64(10), v.Value)
	assert.Equal(t, int64(1), m.Metrics().Writes.Value())
	assert.Equal(t, int64(1), m.Metrics().WriteLatency.Stats().Count)
}

func TestWriteRejected(t *testing.T) {
	m, _, sess, _ := connected(t, testConfig())
	sess.mu.Lock()
	sess.writeStatus = opcua.StatusBadNotWritable
	sess.mu.Unlock()

	ref := KeyRef("::AsGlobalPV:Keys", 6, 3)
	err := m.Write(context.Background(), ref, true)

	var rejected *WriteRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, opcua.StatusBadNotWritable, rejected.Status)
	assert.Equal(t, ref, rejected.Ref)
	assert.ErrorIs(t, err, opcua.StatusBadNotWritable)
	assert.Equal(t, int64(1), m.Metrics().WritesRejected.Value())
}

func TestWriteAcceptsVariant(t *testing.T) {
	m, _, sess, _ := connected(t, testConfig())
	require.NoError(t, m.Write(context.Background(), NewRef("Switch", 1), opcua.MustVariant(uint16(7))))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Equal(t, uint16(7), sess.values["ns=1;s=Switch"].Value)
}

func TestWriteUnsupportedValue(t *testing.T) {
	m, _, sess, _ := connected(t, testConfig())
	err := m.Write(context.Background(), NewRef("Switch", 1), struct{}{})
	assert.Error(t, err)
	assert.Zero(t, sess.writes.Load())
}

func TestWriteThenRead(t *testing.T) {
	m, _, _, _ := connected(t, testConfig())
	ref := NewRef("Panel.Switch", 2)

	require.NoError(t, m.Write(context.Background(), ref, uint16(0x42)))
	dv, err := m.Read(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x42), dv.Value.Value)

	_, err = m.Read(context.Background(), NewRef("Missing", 2))
	assert.ErrorIs(t, err, opcua.StatusBadNodeIDUnknown)
}

func TestMetricsCollect(t *testing.T) {
	m, _, _, _ := connected(t, testConfig())
	require.NoError(t, m.Write(context.Background(), NewRef("A", 1), true))

	got := m.Metrics().Collect()
	for _, key := range []string{
		"keepalive_signals", "keepalive_bad", "keepalive_faults",
		"recoveries_started", "reconnect_attempts", "recoveries_succeeded",
		"recoveries_abandoned", "writes", "writes_rejected", "write_latency",
		"events_dropped",
	} {
		assert.Contains(t, got, key)
	}
	assert.Equal(t, int64(1), got["writes"])
}

func TestResolutionErrorMessage(t *testing.T) {
	err := &ResolutionError{URL: "opc.tcp://plc:4840", Err: errors.New("refused")}
	assert.Equal(t, "session: resolve opc.tcp://plc:4840: refused", err.Error())
}
