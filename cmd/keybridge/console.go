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

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/internal/console"
	"github.com/edgeo-scada/keybridge/panel"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the bridge against a simulated panel driven from a prompt",
	Long: `Connect to the PLC and sample a simulated panel whose keys and key switches
are set interactively. Type "help" at the prompt for the command list.

Examples:
  keybridge console -a 127.0.0.1 --log-format console --log-level info`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p := panel.NewSimPanel()
	return startBridge(ctx, p, func(ctx context.Context, b *bridge) error {
		defer cancel()
		return console.New(b.manager, p, b.sampler.Stats(), cfg.Variables.Namespace).Run(ctx)
	})
}
