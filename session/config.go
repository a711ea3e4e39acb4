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
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/edgeo-scada/keybridge/opcua"
)

// Config configures a Manager.
type Config struct {
	// Address and Port of the server. An empty Address asks the
	// Discoverer, if one is set.
	Address string
	Port    int

	// SecurityPolicy is a short name ("None") or a policy URI.
	SecurityPolicy string
	SecurityMode   opcua.MessageSecurityMode

	SessionName       string
	SessionTimeout    time.Duration
	KeepAliveInterval time.Duration
	ResolveTimeout    time.Duration

	ReconnectPeriod time.Duration
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int
	// ReconnectBackoff multiplies the period after each failed attempt.
	ReconnectBackoff float64
	// MaxReconnectPeriod caps the period. 0 means no cap.
	MaxReconnectPeriod time.Duration

	PublishingInterval time.Duration
	SamplingInterval   time.Duration
}

// DefaultConfig returns the defaults: 5 s session timeout and keepalive,
// 10 s reconnect period without limit, 1 s publishing and sampling.
func DefaultConfig() Config {
	return Config{
		Port:               opcua.DefaultPort,
		SecurityPolicy:     "None",
		SecurityMode:       opcua.MessageSecurityModeNone,
		SessionName:        "keybridge",
		SessionTimeout:     5 * time.Second,
		KeepAliveInterval:  5 * time.Second,
		ResolveTimeout:     10 * time.Second,
		ReconnectPeriod:    10 * time.Second,
		ReconnectBackoff:   1,
		PublishingInterval: time.Second,
		SamplingInterval:   time.Second,
	}
}

// ServerURL returns opc.tcp://Address:Port.
func (c Config) ServerURL() string {
	return "opc.tcp://" + net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Validate checks the numeric settings.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("session: port %d out of range", c.Port)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session: session timeout must be positive")
	}
	if c.ReconnectPeriod <= 0 {
		return fmt.Errorf("session: reconnect period must be positive")
	}
	if c.ReconnectBackoff < 1 {
		return fmt.Errorf("session: reconnect backoff %.2f below 1", c.ReconnectBackoff)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("session: negative max reconnect attempts")
	}
	if c.PublishingInterval <= 0 || c.SamplingInterval <= 0 {
		return fmt.Errorf("session: publishing and sampling intervals must be positive")
	}
	return nil
}
