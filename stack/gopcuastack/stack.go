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

// Package gopcuastack drives session.Manager with github.com/gopcua/opcua.
//
// The library's auto-reconnect is disabled; recovery belongs to the
// session manager. A reconnect always creates a new client and session, so
// Reconnect never reports a restored session. Unlike the built-in stack it
// supports signed and encrypted channels when an identity is configured.
package gopcuastack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

// Stack implements session.Stack.
type Stack struct {
	identity       *opcua.Identity
	requestTimeout time.Duration
	appName        string
	logger         *slog.Logger
}

// Option configures a Stack.
type Option func(*Stack)

// WithIdentity sets the application certificate and key.
func WithIdentity(id *opcua.Identity) Option {
	return func(s *Stack) { s.identity = id }
}

// WithRequestTimeout bounds each service call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Stack) { s.requestTimeout = d }
}

// WithApplicationName sets the client application name.
func WithApplicationName(name string) Option {
	return func(s *Stack) { s.appName = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stack) { s.logger = logger }
}

// New returns a stack.
func New(opts ...Option) *Stack {
	s := &Stack{
		requestTimeout: opcua.DefaultRequestTimeout,
		appName:        "keybridge",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetEndpoints lists the endpoints of the server at url.
func (s *Stack) GetEndpoints(ctx context.Context, url string) ([]session.Endpoint, error) {
	eps, err := gopcua.GetEndpoints(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("gopcuastack: get endpoints: %w", err)
	}
	out := make([]session.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep != nil {
			out = append(out, fromUAEndpoint(ep))
		}
	}
	return out, nil
}

// Open connects a new client to ep and starts its keepalive loop.
func (s *Stack) Open(ctx context.Context, ep session.Endpoint, o session.OpenOptions) (session.Session, error) {
	c, err := s.dial(ctx, ep, o)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		stack:  s,
		ep:     ep,
		opts:   o,
		c:      c,
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		logger: s.logger.With(slog.String("endpoint", ep.URL)),
	}
	if o.OnKeepAlive != nil && o.KeepAliveInterval > 0 {
		go sess.keepAliveLoop()
	}
	return sess, nil
}

func (s *Stack) clientOptions(ep session.Endpoint, o session.OpenOptions) []gopcua.Option {
	opts := []gopcua.Option{
		gopcua.SecurityFromEndpoint(toUAEndpoint(ep), ua.UserTokenTypeAnonymous),
		gopcua.AutoReconnect(false),
		gopcua.RequestTimeout(s.requestTimeout),
		gopcua.ApplicationName(s.appName),
		gopcua.ProductURI(opcua.ProductURI),
	}
	if o.SessionName != "" {
		opts = append(opts, gopcua.SessionName(o.SessionName))
	}
	if s.identity != nil {
		opts = append(opts,
			gopcua.ApplicationURI(s.identity.ApplicationURI),
			gopcua.Certificate(s.identity.CertificateDER),
			gopcua.PrivateKey(s.identity.PrivateKey))
	}
	return opts
}

func (s *Stack) dial(ctx context.Context, ep session.Endpoint, o session.OpenOptions) (*gopcua.Client, error) {
	if ep.SecurityPolicyURI != opcua.SecurityPolicyNone && s.identity == nil {
		return nil, fmt.Errorf("%w: %s needs an application identity", opcua.ErrSecurityPolicyNotSupported, ep.SecurityPolicyURI)
	}

	c, err := gopcua.NewClient(ep.URL, s.clientOptions(ep, o)...)
	if err != nil {
		return nil, fmt.Errorf("gopcuastack: new client: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.Close(closeCtx)
		cancel()
		return nil, fmt.Errorf("gopcuastack: connect: %w", err)
	}
	return c, nil
}

// Session wraps one gopcua client. Reconnect swaps the client.
type Session struct {
	stack  *Stack
	ep     session.Endpoint
	opts   session.OpenOptions
	logger *slog.Logger

	mu     sync.Mutex
	c      *gopcua.Client
	id     string
	subs   []*Subscription
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

func (s *Session) client() (*gopcua.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.c == nil {
		return nil, opcua.ErrNotConnected
	}
	return s.c, nil
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Write(ctx context.Context, id opcua.NodeID, v *opcua.Variant) (opcua.StatusCode, error) {
	c, err := s.client()
	if err != nil {
		return opcua.StatusBadNotConnected, err
	}
	nodeID, err := toUANodeID(id)
	if err != nil {
		return opcua.StatusBadNodeIDInvalid, err
	}
	value, err := toUAVariant(v)
	if err != nil {
		return opcua.StatusBadTypeMismatch, err
	}

	resp, err := c.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      nodeID,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        value,
			},
		}},
	})
	if err != nil {
		return opcua.StatusBadCommunicationError, err
	}
	if len(resp.Results) == 0 {
		return opcua.StatusBadUnexpectedError, opcua.ErrInvalidResponse
	}
	return opcua.StatusCode(resp.Results[0]), nil
}

func (s *Session) Read(ctx context.Context, id opcua.NodeID) (*opcua.DataValue, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	nodeID, err := toUANodeID(id)
	if err != nil {
		return nil, err
	}

	resp, err := c.Read(ctx, &ua.ReadRequest{
		NodesToRead:        []*ua.ReadValueID{{NodeID: nodeID, AttributeID: ua.AttributeIDValue}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, opcua.ErrInvalidResponse
	}
	return fromUADataValue(resp.Results[0])
}

func (s *Session) Subscribe(ctx context.Context, p session.SubscriptionParams, handler func(session.Notification)) (session.Subscription, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}

	notifs := make(chan *gopcua.PublishNotificationData, 16)
	sub, err := c.Subscribe(ctx, &gopcua.SubscriptionParameters{
		Interval:          p.PublishingInterval,
		LifetimeCount:     p.LifetimeCount,
		MaxKeepAliveCount: p.MaxKeepAliveCount,
	}, notifs)
	if err != nil {
		return nil, err
	}

	out := &Subscription{sub: sub, stop: make(chan struct{}), logger: s.logger}
	out.active.Store(true)
	go out.run(notifs, handler)

	s.mu.Lock()
	s.subs = append(s.subs, out)
	s.mu.Unlock()
	return out, nil
}

// Reconnect closes the current client and opens a new one. The new client
// has a new session, so every subscription becomes inactive.
func (s *Session) Reconnect(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, opcua.ErrClientClosed
	}
	old := s.c
	s.c = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.invalidate()
	}
	if old != nil {
		closeCtx, cancel := context.WithTimeout(ctx, time.Second)
		_ = old.Close(closeCtx)
		cancel()
	}

	c, err := s.stack.dial(ctx, s.ep, s.opts)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Close(context.Background())
		return false, opcua.ErrClientClosed
	}
	s.c = c
	s.id = uuid.NewString()
	s.mu.Unlock()

	s.logger.Info("reconnected with a new session")
	return false, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.c
	s.c = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	for _, sub := range subs {
		sub.invalidate()
	}
	if c == nil {
		return nil
	}
	return c.Close(ctx)
}

func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(s.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		ka := s.probe()
		select {
		case <-s.done:
			return
		default:
		}
		s.notify(ka)
	}
}

// probe reads Server_ServerStatus_State.
func (s *Session) probe() session.KeepAlive {
	ctx, cancel := context.WithTimeout(context.Background(), s.stack.requestTimeout)
	defer cancel()

	dv, err := s.Read(ctx, opcua.NodeServerStatusState)
	if err != nil {
		return session.KeepAlive{Status: statusOf(err), ServerState: opcua.ServerStateUnknown}
	}
	ka := session.KeepAlive{Status: dv.Status, ServerState: opcua.ServerStateUnknown, CurrentTime: dv.ServerTimestamp}
	if dv.Value != nil {
		switch v := dv.Value.Value.(type) {
		case int32:
			ka.ServerState = opcua.ServerState(v)
		case uint32:
			ka.ServerState = opcua.ServerState(v)
		}
	}
	return ka
}

func (s *Session) notify(ka session.KeepAlive) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("keepalive callback panicked", slog.Any("panic", r))
		}
	}()
	s.opts.OnKeepAlive(ka)
}
