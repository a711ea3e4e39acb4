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

	"github.com/edgeo-scada/keybridge/internal/console"
)

var writeCmd = &cobra.Command{
	Use:   "write <name> <value>",
	Short: "Write one value to a PLC variable",
	Long: `Write one value through the write gateway. Without --type, true/false are
written as Boolean, integers as Int32, decimals as Double and anything else
as String.

Examples:
  keybridge write ::AsGlobalPV:KeySwitch 0x0A --type uint16
  keybridge write ::AsGlobalPV:Key3 true --key 3
  keybridge write ::Program:Setpoint 42.5 --type double --ns 4`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeType string
	writeNS   int
	writeKey  int
)

func init() {
	writeCmd.Flags().StringVar(&writeType, "type", "", "Value type: bool, byte, uint16, int16, uint32, int32, int64, float, double, string")
	writeCmd.Flags().IntVar(&writeNS, "ns", -1, "Namespace index (default variables.namespace)")
	writeCmd.Flags().IntVar(&writeKey, "key", -1, "Key matrix index, for logging")
}

func runWrite(cmd *cobra.Command, args []string) error {
	value, err := console.ParseValue(args[1], writeType)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	ref := variableRef(args[0], writeNS, writeKey)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout())
	defer cancel()

	m, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer closeManager(m)

	start := time.Now()
	if err := m.Write(ctx, ref, value); err != nil {
		return err
	}
	fmt.Printf("%s = %v (%T) written in %s\n", ref, value, value, time.Since(start).Round(time.Microsecond))
	return nil
}
