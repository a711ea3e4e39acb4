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

import "log/slog"

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	logger     *slog.Logger
	bus        *Bus
	discoverer Discoverer
	onNotify   func(Notification)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithBus shares an existing event bus.
func WithBus(b *Bus) Option {
	return func(o *managerOptions) {
		o.bus = b
	}
}

// WithDiscoverer is consulted when Config.Address is empty.
func WithDiscoverer(d Discoverer) Option {
	return func(o *managerOptions) {
		o.discoverer = d
	}
}

// WithNotificationHandler replaces the default handler, which logs data
// changes at debug level.
func WithNotificationHandler(fn func(Notification)) Option {
	return func(o *managerOptions) {
		o.onNotify = fn
	}
}
