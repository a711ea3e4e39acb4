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
	"time"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <name>...",
	Short: "Read PLC variables",
	Long: `Read the value of one or more PLC variables.

Examples:
  keybridge read ::AsGlobalPV:KeySwitch
  keybridge read ::AsGlobalPV:Key1 ::AsGlobalPV:Key2 --ns 6`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

var readNS int

func init() {
	readCmd.Flags().IntVar(&readNS, "ns", -1, "Namespace index (default variables.namespace)")
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout())
	defer cancel()

	m, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer closeManager(m)

	for _, name := range args {
		ref := variableRef(name, readNS, -1)
		fmt.Printf("Node: %s\n", ref.NodeID())

		dv, err := m.Read(ctx, ref)
		if err != nil {
			fmt.Printf("  Error: %v\n\n", err)
			continue
		}
		if dv.Value != nil {
			fmt.Printf("  Value: %v\n", dv.Value.Value)
			fmt.Printf("  Type: %s\n", dv.Value.Type)
		} else {
			fmt.Printf("  Value: <null>\n")
		}
		if !dv.SourceTimestamp.IsZero() {
			fmt.Printf("  SourceTimestamp: %s\n", dv.SourceTimestamp.Format(time.RFC3339Nano))
		}
		if !dv.ServerTimestamp.IsZero() {
			fmt.Printf("  ServerTimestamp: %s\n", dv.ServerTimestamp.Format(time.RFC3339Nano))
		}
		fmt.Printf("  Status: %s\n\n", dv.Status)
	}
	return nil
}
