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
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/edgeo-scada/keybridge/opcua"
)

var errFake = errors.New("fake failure")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStack hands out fakeSessions.
type fakeStack struct {
	mu           sync.Mutex
	endpoints    []Endpoint
	endpointsErr error
	endpointsURL string
	openErr      error
	openBlocks   bool
	lastOpts     OpenOptions
	sessions     []*fakeSession
	// onOpen runs on every new session before Open returns.
	onOpen func(*fakeSession)
}

func newFakeStack() *fakeStack {
	return &fakeStack{
		endpoints: []Endpoint{{
			URL:               "opc.tcp://plc:4840",
			SecurityPolicyURI: opcua.SecurityPolicyNone,
			SecurityMode:      opcua.MessageSecurityModeNone,
		}},
	}
}

func (s *fakeStack) GetEndpoints(_ context.Context, url string) ([]Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpointsURL = url
	return s.endpoints, s.endpointsErr
}

func (s *fakeStack) Open(ctx context.Context, _ Endpoint, o OpenOptions) (Session, error) {
	s.mu.Lock()
	s.lastOpts = o
	blocks, err := s.openBlocks, s.openErr
	s.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &fakeSession{
		base:        fmt.Sprintf("sess-%d", len(s.sessions)+1),
		onKeepAlive: o.OnKeepAlive,
		restore:     true,
		values:      make(map[string]*opcua.Variant),
	}
	sess.id = sess.base
	if s.onOpen != nil {
		s.onOpen(sess)
	}
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

func (s *fakeStack) session(i int) *fakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[i]
}

func (s *fakeStack) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// fakeSession records calls and lets tests raise keepalives.
type fakeSession struct {
	base        string
	onKeepAlive func(KeepAlive)

	mu           sync.Mutex
	id           string
	generation   int
	restore      bool
	reconnectErr error
	writeStatus  opcua.StatusCode
	values       map[string]*opcua.Variant
	subs         []*fakeSubscription
	closed       bool

	// subscribeGate, when set, parks Subscribe after signalling
	// subscribing.
	subscribeGate chan struct{}
	subscribing   chan struct{}

	writes     atomic.Int32
	reconnects atomic.Int32
}

func (s *fakeSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *fakeSession) keepAlive(status opcua.StatusCode) {
	s.onKeepAlive(KeepAlive{Status: status, ServerState: opcua.ServerStateRunning})
}

func (s *fakeSession) Write(_ context.Context, id opcua.NodeID, v *opcua.Variant) (opcua.StatusCode, error) {
	s.writes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeStatus.IsGood() {
		s.values[id.String()] = v
	}
	return s.writeStatus, nil
}

func (s *fakeSession) Read(_ context.Context, id opcua.NodeID) (*opcua.DataValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id.String()]
	if !ok {
		return &opcua.DataValue{Status: opcua.StatusBadNodeIDUnknown}, nil
	}
	return &opcua.DataValue{Value: v}, nil
}

func (s *fakeSession) Subscribe(_ context.Context, p SubscriptionParams, _ func(Notification)) (Subscription, error) {
	s.mu.Lock()
	gate, entered := s.subscribeGate, s.subscribing
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &fakeSubscription{id: uint32(len(s.subs) + 1), params: p}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeSession) Reconnect(ctx context.Context) (bool, error) {
	s.reconnects.Add(1)
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectErr != nil {
		return false, s.reconnectErr
	}
	if !s.restore {
		s.generation++
		s.id = fmt.Sprintf("%s-r%d", s.base, s.generation)
		for _, sub := range s.subs {
			sub.active.Store(false)
		}
	}
	return s.restore, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, sub := range s.subs {
		sub.active.Store(false)
	}
	return nil
}

// holdSubscribe parks the next Subscribe calls until release is called.
func (s *fakeSession) holdSubscribe() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribeGate = gate
	s.subscribing = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (s *fakeSession) setRestore(restore bool) {
	s.mu.Lock()
	s.restore = restore
	s.mu.Unlock()
}

func (s *fakeSession) setReconnectErr(err error) {
	s.mu.Lock()
	s.reconnectErr = err
	s.mu.Unlock()
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) subscriptions() []*fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeSubscription(nil), s.subs...)
}

type fakeSubscription struct {
	id     uint32
	params SubscriptionParams

	mu        sync.Mutex
	items     []MonitoredItem
	cancelled bool
	active    atomic.Bool
}

func (s *fakeSubscription) ID() uint32 { return s.id }

func (s *fakeSubscription) Monitor(_ context.Context, item MonitoredItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *fakeSubscription) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *fakeSubscription) Active() bool { return s.active.Load() }

func (s *fakeSubscription) Cancel(context.Context) error {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.active.Store(false)
	return nil
}

func (s *fakeSubscription) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// recorder collects bus events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(e Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// panicHandler is a slog handler that panics on one message.
type panicHandler struct {
	slog.Handler
	msg string
}

func (h panicHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Message == h.msg {
		panic("log sink failure")
	}
	return h.Handler.Handle(ctx, r)
}
