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
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/discovery"
	"github.com/edgeo-scada/keybridge/opcua"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a test OPC UA server holding the configured PLC variables",
	Long: `Serve the key switch variable (UInt16, initially 255) and every key matrix
variable (Boolean) from an in-memory address space, so the bridge can be
exercised without a PLC. Only SecurityPolicy None is offered.

Examples:
  keybridge serve
  keybridge serve --listen 127.0.0.1:4841 --advertise`,
	RunE: runServe,
}

var (
	serveListen    string
	serveAdvertise bool
	serveInstance  string
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":4840", "Listen address")
	serveCmd.Flags().BoolVar(&serveAdvertise, "advertise", false, "Advertise the server with mDNS")
	serveCmd.Flags().StringVar(&serveInstance, "instance", "", "mDNS instance name (default <host>-keybridge)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	h := opcua.NewMemoryHandler()
	ks := cfg.Variables.KeySwitchRef()
	h.AddVariable(ks.NodeID(), opcua.MustVariant(uint16(255)), true)
	for _, ref := range cfg.Variables.KeyRefs() {
		h.AddVariable(ref.NodeID(), opcua.MustVariant(false), true)
	}

	srv, err := opcua.NewServer(serveListen, h,
		opcua.WithServerLogger(logger.With(slog.String("component", "server"))),
		opcua.WithServerApplicationName(cfg.Security.ApplicationName+" test server"))
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Printf("Serving %s (Ctrl+C to stop)\n", srv.EndpointURL())
	fmt.Printf("  %s = UInt16(255)\n", ks.NodeID())
	for _, ref := range cfg.Variables.KeyRefs() {
		fmt.Printf("  %s = Boolean(false)\n", ref.NodeID())
	}

	if serveAdvertise {
		_, portStr, err := net.SplitHostPort(srv.Addr().String())
		if err != nil {
			return err
		}
		port, _ := strconv.Atoi(portStr)
		instance := serveInstance
		if instance == "" {
			instance = hostname() + "-keybridge"
		}
		adv := discovery.NewAdvertiser(logger)
		if err := adv.Advertise(instance, port, "/"); err != nil {
			return err
		}
		defer adv.Shutdown()
		fmt.Printf("Advertising %s as %s.%s\n", instance, discovery.ServiceType, discovery.Domain)
	}

	<-ctx.Done()
	fmt.Println("\nStopping...")
	for k, v := range srv.Metrics().Collect() {
		logger.Info("server metric", slog.String("name", k), slog.Any("value", v))
	}
	return nil
}
