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
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	requestTimeout    time.Duration
	sessionTimeout    time.Duration
	sessionName       string
	channelLifetime   time.Duration
	maxMessageSize    uint32
	keepAliveInterval time.Duration
	onKeepAlive       func(KeepAlive)

	identity  *Identity
	validator CertificateValidator

	applicationURI  string
	productURI      string
	applicationName string

	logger *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		requestTimeout:    DefaultRequestTimeout,
		sessionTimeout:    5 * time.Second,
		sessionName:       "keybridge",
		channelLifetime:   time.Hour,
		maxMessageSize:    DefaultMaxMessageSize,
		keepAliveInterval: 5 * time.Second,
		applicationURI:    "urn:edgeo:keybridge",
		productURI:        ProductURI,
		applicationName:   "keybridge",
		logger:            slog.Default(),
	}
}

// WithRequestTimeout bounds every service call that has no earlier deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.requestTimeout = d
	}
}

// WithSessionTimeout sets the requested session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.sessionTimeout = d
	}
}

// WithSessionName sets the name announced in CreateSession.
func WithSessionName(name string) Option {
	return func(o *clientOptions) {
		o.sessionName = name
	}
}

// WithChannelLifetime sets the requested security token lifetime. The
// token is renewed at 75% of the revised lifetime.
func WithChannelLifetime(d time.Duration) Option {
	return func(o *clientOptions) {
		o.channelLifetime = d
	}
}

// WithMaxMessageSize limits incoming messages.
func WithMaxMessageSize(n uint32) Option {
	return func(o *clientOptions) {
		o.maxMessageSize = n
	}
}

// WithKeepAlive installs a liveness callback. It is invoked every interval
// with the result of reading Server_ServerStatus_State, and immediately when
// the transport drops. A zero interval disables the periodic read.
func WithKeepAlive(interval time.Duration, fn func(KeepAlive)) Option {
	return func(o *clientOptions) {
		o.keepAliveInterval = interval
		o.onKeepAlive = fn
	}
}

// WithIdentity sets the application instance certificate sent in CreateSession.
func WithIdentity(id *Identity) Option {
	return func(o *clientOptions) {
		o.identity = id
		if id != nil && id.ApplicationURI != "" {
			o.applicationURI = id.ApplicationURI
		}
	}
}

// WithCertificateValidator validates the server certificate returned by
// GetEndpoints and CreateSession.
func WithCertificateValidator(v CertificateValidator) Option {
	return func(o *clientOptions) {
		o.validator = v
	}
}

// WithApplicationURI sets the application URI. An identity overrides it.
func WithApplicationURI(uri string) Option {
	return func(o *clientOptions) {
		o.applicationURI = uri
	}
}

// WithProductURI sets the product URI.
func WithProductURI(uri string) Option {
	return func(o *clientOptions) {
		o.productURI = uri
	}
}

// WithApplicationName sets the application name.
func WithApplicationName(name string) Option {
	return func(o *clientOptions) {
		o.applicationName = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger          *slog.Logger
	applicationURI  string
	productURI      string
	applicationName string
	advertisedHost  string
	identity        *Identity
	maxConnections  int
	maxSessions     int
	idleTimeout     time.Duration
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:          slog.Default(),
		applicationURI:  "urn:edgeo:keybridge:server",
		productURI:      ProductURI,
		applicationName: "keybridge test server",
		maxConnections:  64,
		maxSessions:     64,
		idleTimeout:     2 * time.Minute,
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerApplicationURI sets the server application URI.
func WithServerApplicationURI(uri string) ServerOption {
	return func(o *serverOptions) {
		o.applicationURI = uri
	}
}

// WithServerApplicationName sets the server application name.
func WithServerApplicationName(name string) ServerOption {
	return func(o *serverOptions) {
		o.applicationName = name
	}
}

// WithAdvertisedHost sets the host name placed in advertised endpoint URLs.
// By default the listener address is used.
func WithAdvertisedHost(host string) ServerOption {
	return func(o *serverOptions) {
		o.advertisedHost = host
	}
}

// WithServerIdentity sets the certificate returned to clients.
func WithServerIdentity(id *Identity) ServerOption {
	return func(o *serverOptions) {
		o.identity = id
		if id != nil && id.ApplicationURI != "" {
			o.applicationURI = id.ApplicationURI
		}
	}
}

// WithMaxConnections limits concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConnections = n
	}
}

// WithMaxSessions limits concurrent sessions.
func WithMaxSessions(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxSessions = n
	}
}

// WithIdleTimeout closes connections that send nothing for d.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.idleTimeout = d
	}
}
