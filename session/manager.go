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

// Package session keeps one OPC UA session alive against a PLC.
//
// A Manager resolves the server endpoint once, opens a session, attaches a
// liveness subscription and watches the keepalive signals of the stack.
// A bad keepalive starts exactly one background recovery which retries
// until the stack restores the session. Connected and Disconnected events
// are raised on the Bus. Write pushes single values and fails fast while
// no session is usable.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the session to one server.
type Manager struct {
	cfg      Config
	endpoint Endpoint
	stack    Stack
	factory  *factory
	subs     *subscriptions
	bus      *Bus
	metrics  *Metrics
	logger   *slog.Logger

	// mu guards everything below. It is never held across a stack call.
	mu       sync.Mutex
	state    State
	sess     Session
	gen      uint64
	handle   *reconnectHandle
	handles  uint64
	lastSeen time.Time
	closed   bool

	// pending holds events queued with the state change that caused them.
	// One goroutine at a time delivers them, so listeners see the order in
	// which the state changed.
	pending  []Event
	flushing bool
}

// New resolves the server endpoint and returns a disconnected manager.
// Resolution is not retried; its failure is a *ResolutionError.
func New(ctx context.Context, cfg Config, stack Stack, opts ...Option) (*Manager, error) {
	o := &managerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = NewBus(o.logger)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ResolveTimeout)
		defer cancel()
	}
	ep, err := resolveEndpoint(ctx, &cfg, stack, o.discoverer, o.logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		endpoint: ep,
		stack:    stack,
		factory: &factory{
			stack:     stack,
			timeout:   cfg.SessionTimeout,
			keepAlive: cfg.KeepAliveInterval,
			name:      cfg.SessionName,
		},
		subs:    newSubscriptions(cfg, o.onNotify, o.logger),
		bus:     o.bus,
		metrics: newMetrics(o.bus),
		logger:  o.logger,
		state:   StateDisconnected,
	}, nil
}

// Connect opens a session, wires the keepalive, attaches the subscription
// and raises Connected. A live session is disconnected first.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	live := m.sess != nil || m.handle != nil
	m.mu.Unlock()

	if live {
		if err := m.Disconnect(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if err := checkTransition(m.state, StateConnecting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("connecting", slog.String("endpoint", m.endpoint.URL))

	sess, err := m.factory.open(ctx, m.endpoint, m.keepAliveHandler(gen))
	if err != nil {
		m.abortConnect(gen, nil)
		m.logger.Error("session creation failed",
			slog.String("endpoint", m.endpoint.URL),
			slog.String("error", err.Error()))
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.closeSession(sess)
		return fmt.Errorf("%w: connect aborted", ErrNoSession)
	}
	m.sess = sess
	m.lastSeen = time.Now()
	m.mu.Unlock()

	sub, err := m.subs.attach(ctx, sess)
	if err != nil {
		m.abortConnect(gen, sess)
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect took the session while the subscription was created.
		m.mu.Unlock()
		m.dropSubscription(sub)
		return fmt.Errorf("%w: connect aborted", ErrNoSession)
	}
	if err := checkTransition(m.state, StateConnected); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StateConnected
	m.emit(Connected)
	m.mu.Unlock()

	m.flush()
	m.logger.Info("connected",
		slog.String("endpoint", m.endpoint.URL),
		slog.String("session", sess.ID()))
	return nil
}

func (m *Manager) abortConnect(gen uint64, sess Session) {
	m.mu.Lock()
	if m.gen == gen {
		m.gen++
		m.sess = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if sess != nil {
		m.subs.forget()
		m.closeSession(sess)
	}
}

// Disconnect cancels a running recovery, deletes the subscription and
// closes the session. Disconnected is raised when a session existed.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	sess := m.sess
	m.handle = nil
	m.sess = nil
	m.gen++
	m.state = StateDisconnected
	if sess != nil {
		m.emit(Disconnected)
	}
	m.mu.Unlock()

	if h != nil {
		h.stop(ctx)
		m.logger.Debug("recovery cancelled", slog.Uint64("handle", h.id))
	}
	if sess == nil {
		m.subs.forget()
		return nil
	}

	m.subs.detach(ctx)
	err := sess.Close(ctx)
	m.flush()
	m.logger.Info("disconnected", slog.String("session", sess.ID()))
	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

// Close disconnects and rejects further Connect calls.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Disconnect(ctx)
}

// emit queues e. m.mu must be held.
func (m *Manager) emit(e Event) {
	m.pending = append(m.pending, e)
}

// flush delivers queued events. A caller that finds another goroutine
// delivering leaves its events to that goroutine, which also makes
// listeners that call back into the manager safe.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, e := range batch {
			m.bus.Publish(e)
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}

// dropSubscription deletes a subscription created for a session that is no
// longer current.
func (m *Manager) dropSubscription(sub Subscription) {
	if sub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SessionTimeout)
	defer cancel()
	m.subs.drop(ctx, sub)
}

func (m *Manager) closeSession(sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SessionTimeout)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		m.logger.Debug("close session", slog.String("error", err.Error()))
	}
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the id of the current session or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.ID()
}

// Recovering reports whether a reconnect is in flight.
func (m *Manager) Recovering() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// LastKeepAlive returns when the last good keepalive arrived.
func (m *Manager) LastKeepAlive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Endpoint returns the resolved endpoint.
func (m *Manager) Endpoint() Endpoint {
	return m.endpoint
}

// Bus returns the event bus.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Subscribe registers a listener on the event bus.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// Subscription describes the current subscription.
func (m *Manager) Subscription() (SubscriptionInfo, bool) {
	return m.subs.info()
}

// Metrics returns the manager metrics.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}
