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


package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeo-scada/keybridge/config"
	"github.com/edgeo-scada/keybridge/discovery"
	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/panel"
	"github.com/edgeo-scada/keybridge/session"
	"github.com/edgeo-scada/keybridge/stack/gopcuastack"
	"github.com/edgeo-scada/keybridge/stack/nativestack"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func opTimeout() time.Duration {
	return time.Duration(timeout) * time.Millisecond
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// loadIdentity loads or creates the application certificate below the PKI
// directory.
func loadIdentity() (*opcua.Identity, error) {
	id, created, err := opcua.LoadOrCreateIdentity(cfg.Security.PKIDir, cfg.Security.ApplicationName, hostname())
	if err != nil {
		return nil, fmt.Errorf("application identity: %w", err)
	}
	if created {
		logger.Info("application certificate created",
			slog.String("pki_dir", cfg.Security.PKIDir),
			slog.String("application_uri", id.ApplicationURI))
	}
	return id, nil
}

// buildStack returns the configured OPC UA stack.
func buildStack() (session.Stack, error) {
	id, err := loadIdentity()
	if err != nil {
		return nil, err
	}
	stackLogger := logger.With(slog.String("stack", cfg.Stack))

	switch cfg.Stack {
	case config.StackGopcua:
		return gopcuastack.New(
			gopcuastack.WithIdentity(id),
			gopcuastack.WithRequestTimeout(cfg.Session.Timeout),
			gopcuastack.WithApplicationName(cfg.Security.ApplicationName),
			gopcuastack.WithLogger(stackLogger),
		), nil
	default:
		trust, err := opcua.NewTrustStore(cfg.Security.PKIDir, cfg.Security.AutoAcceptUntrusted, stackLogger)
		if err != nil {
			return nil, fmt.Errorf("trust store: %w", err)
		}
		return nativestack.New(
			nativestack.WithIdentity(id),
			nativestack.WithValidator(trust),
			nativestack.WithRequestTimeout(cfg.Session.Timeout),
			nativestack.WithApplicationName(cfg.Security.ApplicationName),
			nativestack.WithLogger(stackLogger),
		), nil
	}
}

// newManager resolves the endpoint and returns a disconnected manager.
func newManager(ctx context.Context, opts ...session.Option) (*session.Manager, error) {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	stack, err := buildStack()
	if err != nil {
		return nil, err
	}

	opts = append([]session.Option{session.WithLogger(logger)}, opts...)
	if cfg.Discovery.MDNS {
		opts = append(opts, session.WithDiscoverer(discovery.NewBrowser(
			discovery.WithTimeout(cfg.Discovery.BrowseTimeout),
			discovery.WithLogger(logger))))
	}
	return session.New(ctx, sc, stack, opts...)
}

// connect builds a manager and opens its session. The caller closes it.
func connect(ctx context.Context) (*session.Manager, error) {
	m, err := newManager(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Connect(ctx); err != nil {
		closeManager(m)
		return nil, err
	}
	return m, nil
}

// connectUntil retries newManager and Connect every reconnect period
// until the first session is open or ctx ends.
func connectUntil(ctx context.Context, opts ...session.Option) (*session.Manager, error) {
	period := cfg.Session.ReconnectPeriod
	for {
		m, err := newManager(ctx, opts...)
		if err == nil {
			if err = m.Connect(ctx); err == nil {
				return m, nil
			}
			_ = m.Close(context.Background())
		}
		logger.Error("connect failed", slog.Any("error", err), slog.Duration("retry_in", period))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(period):
		}
	}
}

func panelVariables() panel.Variables {
	return panel.Variables{
		KeySwitch: cfg.Variables.KeySwitchRef(),
		Keys:      cfg.Variables.KeyRefs(),
	}
}

// variableRef builds a reference from a name and the --ns and --key flags.
func variableRef(name string, ns int, key int) session.VariableRef {
	namespace := cfg.Variables.Namespace
	if ns >= 0 {
		namespace = uint16(ns)
	}
	if key >= 0 {
		return session.KeyRef(name, namespace, key)
	}
	return session.NewRef(name, namespace)
}

func closeManager(m *session.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		logger.Warn("close failed", slog.Any("error", err))
	}
}
