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
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/panel"
	"github.com/edgeo-scada/keybridge/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample the panel and push key changes to the PLC until interrupted",
	Long: `Connect to the PLC, then sample the panel every options.update_interval and
write each changed key switch byte or key state. After every reconnect the
complete panel state is written again.

The native panel driver is not part of this build; run samples a simulated
panel whose keys stay released. Use "keybridge console" to drive it by hand.

Examples:
  keybridge run -c /etc/keybridge/keybridge.yaml
  keybridge run -a 192.168.0.10 --log-level debug --log-format console`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	return startBridge(ctx, panel.NewSimPanel(), func(ctx context.Context, b *bridge) error {
		<-ctx.Done()
		return nil
	})
}

// bridge is a connected manager with its sampler.
type bridge struct {
	manager *session.Manager
	sampler *panel.Sampler
}

// startBridge connects, starts the sampler and calls fn. The sampler and
// manager stop when fn returns or ctx ends.
func startBridge(ctx context.Context, p panel.Panel, fn func(context.Context, *bridge) error) error {
	bus := session.NewBus(logger)
	events, stop := bus.Chan(8)
	defer stop()

	m, err := connectUntil(ctx, session.WithBus(bus))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer closeManager(m)

	logger.Info("connected to OPC UA server",
		slog.String("endpoint", m.Endpoint().URL),
		slog.String("session_id", m.SessionID()))

	b := &bridge{
		manager: m,
		sampler: panel.NewSampler(p, m, panelVariables(),
			panel.WithInterval(cfg.Options.UpdateInterval),
			panel.WithWriteTimeout(cfg.Session.Timeout),
			panel.WithLogger(logger.With(slog.String("component", "sampler")))),
	}

	sctx, scancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.sampler.Run(sctx, events)
	}()

	err = fn(sctx, b)
	scancel()
	<-done
	return err
}
