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
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/discovery"
	"github.com/edgeo-scada/keybridge/opcua"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List the endpoints offered by the PLC",
	Long: `Call GetEndpoints on the PLC and print every endpoint with its security
profile. The endpoint keybridge would select is marked with '*'.

Examples:
  keybridge endpoints -a 192.168.0.10
  keybridge endpoints -a 192.168.0.10 --stack gopcua`,
	RunE: runEndpoints,
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout())
	defer cancel()

	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	if sc.Address == "" {
		url, err := discovery.NewBrowser(discovery.WithTimeout(cfg.Discovery.BrowseTimeout)).Discover(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Discovered %s\n", url)
		addr, err := opcua.ParseEndpoint(url)
		if err != nil {
			return err
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return err
		}
		sc.Address = host
		if sc.Port, err = strconv.Atoi(port); err != nil {
			return err
		}
	}

	stack, err := buildStack()
	if err != nil {
		return err
	}
	eps, err := stack.GetEndpoints(ctx, sc.ServerURL())
	if err != nil {
		return fmt.Errorf("get endpoints: %w", err)
	}

	// Same rule as the resolver: configured policy and mode, highest level.
	policy := opcua.SecurityPolicyURI(sc.SecurityPolicy)
	best := -1
	for i, ep := range eps {
		if ep.SecurityPolicyURI == policy && ep.SecurityMode == sc.SecurityMode &&
			(best < 0 || ep.SecurityLevel > eps[best].SecurityLevel) {
			best = i
		}
	}

	fmt.Printf("Endpoints of %s:\n", sc.ServerURL())
	for i, ep := range eps {
		mark := " "
		if i == best {
			mark = "*"
		}
		fmt.Printf("%s [%d] %s\n", mark, i+1, ep.URL)
		fmt.Printf("      Policy: %s\n", strings.TrimPrefix(ep.SecurityPolicyURI, opcua.SecurityPolicyURIPrefix))
		fmt.Printf("      Mode: %s\n", ep.SecurityMode)
		fmt.Printf("      Level: %d\n", ep.SecurityLevel)
		if ep.UserTokenPolicyID != "" {
			fmt.Printf("      Anonymous token policy: %s\n", ep.UserTokenPolicyID)
		}
		if len(ep.ServerCertificate) > 0 {
			fmt.Printf("      Server certificate: %d bytes, thumbprint %X\n", len(ep.ServerCertificate), opcua.Thumbprint(ep.ServerCertificate))
		}
	}
	if best < 0 {
		fmt.Printf("\nNo endpoint matches policy %s with mode %s\n", sc.SecurityPolicy, sc.SecurityMode)
	}
	return nil
}
