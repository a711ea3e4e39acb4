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

// Package nativestack drives session.Manager with the built-in opcua client.
package nativestack

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

// Stack implements session.Stack.
type Stack struct {
	identity       *opcua.Identity
	validator      opcua.CertificateValidator
	requestTimeout time.Duration
	appName        string
	logger         *slog.Logger
}

// Option configures a Stack.
type Option func(*Stack)

// WithIdentity sets the application certificate sent in CreateSession.
func WithIdentity(id *opcua.Identity) Option {
	return func(s *Stack) { s.identity = id }
}

// WithValidator validates server certificates.
func WithValidator(v opcua.CertificateValidator) Option {
	return func(s *Stack) { s.validator = v }
}

// WithRequestTimeout bounds each service call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Stack) { s.requestTimeout = d }
}

// WithApplicationName sets the client application name.
func WithApplicationName(name string) Option {
	return func(s *Stack) { s.appName = name }
}

// WithLogger sets the logger handed to every client.
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

func (s *Stack) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.WithRequestTimeout(s.requestTimeout),
		opcua.WithApplicationName(s.appName),
		opcua.WithLogger(s.logger),
	}
	if s.identity != nil {
		opts = append(opts, opcua.WithIdentity(s.identity))
	}
	if s.validator != nil {
		opts = append(opts, opcua.WithCertificateValidator(s.validator))
	}
	return opts
}

// GetEndpoints lists the endpoints of the server at url.
func (s *Stack) GetEndpoints(ctx context.Context, url string) ([]session.Endpoint, error) {
	eps, err := opcua.GetEndpoints(ctx, url, s.clientOptions()...)
	if err != nil {
		return nil, err
	}
	out := make([]session.Endpoint, 0, len(eps))
	for i := range eps {
		ep := &eps[i]
		out = append(out, session.Endpoint{
			URL:               ep.EndpointURL,
			SecurityPolicyURI: ep.SecurityPolicyURI,
			SecurityMode:      ep.SecurityMode,
			ServerCertificate: ep.ServerCertificate,
			SecurityLevel:     ep.SecurityLevel,
			UserTokenPolicyID: ep.AnonymousPolicyID(),
		})
	}
	return out, nil
}

// Open connects a new client to ep. Only SecurityPolicy None channels are
// supported.
func (s *Stack) Open(ctx context.Context, ep session.Endpoint, o session.OpenOptions) (session.Session, error) {
	if ep.SecurityPolicyURI != opcua.SecurityPolicyNone {
		return nil, fmt.Errorf("%w: %s", opcua.ErrSecurityPolicyNotSupported, ep.SecurityPolicyURI)
	}

	opts := append(s.clientOptions(), opcua.WithKeepAlive(o.KeepAliveInterval, o.OnKeepAlive))
	if o.SessionName != "" {
		opts = append(opts, opcua.WithSessionName(o.SessionName))
	}

	c, err := opcua.NewClient(ep.URL, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return &Session{c: c}, nil
}

// Session adapts *opcua.Client to session.Session.
type Session struct {
	c *opcua.Client
}

// Client returns the underlying client.
func (s *Session) Client() *opcua.Client { return s.c }

func (s *Session) ID() string { return s.c.SessionID().String() }

func (s *Session) Write(ctx context.Context, id opcua.NodeID, v *opcua.Variant) (opcua.StatusCode, error) {
	return s.c.WriteValue(ctx, id, v)
}

func (s *Session) Read(ctx context.Context, id opcua.NodeID) (*opcua.DataValue, error) {
	return s.c.ReadValue(ctx, id)
}

func (s *Session) Subscribe(ctx context.Context, p session.SubscriptionParams, handler func(session.Notification)) (session.Subscription, error) {
	sub, err := s.c.Subscribe(ctx, opcua.SubscriptionParameters{
		Interval:          p.PublishingInterval,
		LifetimeCount:     p.LifetimeCount,
		MaxKeepAliveCount: p.MaxKeepAliveCount,
	}, func(dc opcua.DataChange) {
		handler(session.Notification{ClientHandle: dc.ClientHandle, Value: dc.Value})
	})
	if err != nil {
		return nil, err
	}
	return &Subscription{sub: sub}, nil
}

func (s *Session) Reconnect(ctx context.Context) (bool, error) {
	return s.c.Reconnect(ctx)
}

func (s *Session) Close(ctx context.Context) error {
	return s.c.Close(ctx)
}

// Subscription adapts *opcua.Subscription.
type Subscription struct {
	sub   *opcua.Subscription
	items atomic.Int32
}

func (s *Subscription) ID() uint32 { return s.sub.ID() }

func (s *Subscription) Monitor(ctx context.Context, item session.MonitoredItem) error {
	_, err := s.sub.Monitor(ctx, opcua.MonitorItem{
		NodeID:           item.NodeID,
		ClientHandle:     item.ClientHandle,
		SamplingInterval: item.SamplingInterval,
		QueueSize:        item.QueueSize,
		DiscardOldest:    item.DiscardOldest,
	})
	if err != nil {
		return err
	}
	s.items.Add(1)
	return nil
}

func (s *Subscription) ItemCount() int { return int(s.items.Load()) }

func (s *Subscription) Active() bool { return s.sub.Active() }

func (s *Subscription) Cancel(ctx context.Context) error { return s.sub.Cancel(ctx) }
