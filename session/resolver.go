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
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/edgeo-scada/keybridge/opcua"
)

// Discoverer finds a server when no address is configured.
type Discoverer interface {
	// Discover returns an opc.tcp URL.
	Discover(ctx context.Context) (string, error)
}

var errNoAddress = errors.New("no server address configured")

// resolveEndpoint runs GetEndpoints once and selects the endpoint matching
// the configured policy and mode with the highest security level. The host
// and port of the selected URL are replaced by the ones that answered.
func resolveEndpoint(ctx context.Context, cfg *Config, stack Stack, disc Discoverer, logger *slog.Logger) (Endpoint, error) {
	if cfg.Address == "" {
		if disc == nil {
			return Endpoint{}, &ResolutionError{Err: errNoAddress}
		}
		found, err := disc.Discover(ctx)
		if err != nil {
			return Endpoint{}, &ResolutionError{Err: fmt.Errorf("discovery: %w", err)}
		}
		if err := adoptDiscovered(cfg, found); err != nil {
			return Endpoint{}, &ResolutionError{URL: found, Err: err}
		}
		logger.Info("server discovered", slog.String("url", found))
	}

	serverURL := cfg.ServerURL()
	eps, err := stack.GetEndpoints(ctx, serverURL)
	if err != nil {
		return Endpoint{}, &ResolutionError{URL: serverURL, Err: err}
	}

	ep, err := selectEndpoint(eps, opcua.SecurityPolicyURI(cfg.SecurityPolicy), cfg.SecurityMode)
	if err != nil {
		return Endpoint{}, &ResolutionError{URL: serverURL, Err: err}
	}

	advertised := ep.URL
	ep.URL, err = substituteHost(ep.URL, cfg.Address, cfg.Port)
	if err != nil {
		return Endpoint{}, &ResolutionError{URL: serverURL, Err: err}
	}
	if advertised != ep.URL {
		logger.Debug("endpoint url substituted",
			slog.String("advertised", advertised),
			slog.String("url", ep.URL))
	}

	logger.Info("endpoint selected",
		slog.String("url", ep.URL),
		slog.String("policy", ep.SecurityPolicyURI),
		slog.String("mode", ep.SecurityMode.String()),
		slog.Int("level", int(ep.SecurityLevel)))
	return ep, nil
}

func selectEndpoint(eps []Endpoint, policyURI string, mode opcua.MessageSecurityMode) (Endpoint, error) {
	best := -1
	for i, ep := range eps {
		if ep.SecurityPolicyURI != policyURI || ep.SecurityMode != mode {
			continue
		}
		if best < 0 || ep.SecurityLevel > eps[best].SecurityLevel {
			best = i
		}
	}
	if best < 0 {
		return Endpoint{}, fmt.Errorf("no endpoint among %d offers %s with mode %s", len(eps), policyURI, mode)
	}
	return eps[best], nil
}

func substituteHost(endpointURL, host string, port int) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil || u.Scheme != "opc.tcp" {
		return "", fmt.Errorf("%w: %q", opcua.ErrInvalidEndpoint, endpointURL)
	}
	u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	return u.String(), nil
}

func adoptDiscovered(cfg *Config, found string) error {
	addr, err := opcua.ParseEndpoint(found)
	if err != nil {
		return err
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	cfg.Address = host
	cfg.Port = p
	return nil
}
