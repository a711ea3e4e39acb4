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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find OPC UA servers on the local network with mDNS",
	Long: `Browse for _opcua-tcp._tcp services (OPC UA multicast discovery) and print
each server found.

Examples:
  keybridge discover
  keybridge discover --wait 10s --iface eth0`,
	RunE: runDiscover,
}

var (
	discoverWait  time.Duration
	discoverIface string
)

func init() {
	discoverCmd.Flags().DurationVar(&discoverWait, "wait", 0, "Browse duration (default discovery.browse_timeout)")
	discoverCmd.Flags().StringVar(&discoverIface, "iface", "", "Network interface to browse on")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	wait := discoverWait
	if wait <= 0 {
		wait = cfg.Discovery.BrowseTimeout
	}
	opts := []discovery.BrowserOption{discovery.WithTimeout(wait), discovery.WithLogger(logger)}
	if discoverIface != "" {
		opts = append(opts, discovery.WithInterface(discoverIface))
	}

	fmt.Printf("Browsing for %s for %s...\n", discovery.ServiceType, wait)
	servers, err := discovery.NewBrowser(opts...).Browse(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("No servers found")
		return nil
	}

	fmt.Printf("Found %d server(s):\n\n", len(servers))
	for i, s := range servers {
		fmt.Printf("[%d] %s\n", i+1, s.Instance)
		fmt.Printf("    URL: %s\n", s.URL())
		fmt.Printf("    Host: %s\n", s.Host)
		if len(s.Addresses) > 0 {
			fmt.Printf("    Addresses: %s\n", strings.Join(s.Addresses, ", "))
		}
		if len(s.Caps) > 0 {
			fmt.Printf("    Capabilities: %s\n", strings.Join(s.Caps, ", "))
		}
	}
	return nil
}
