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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/opcua"
)

var gencertCmd = &cobra.Command{
	Use:   "gencert",
	Short: "Create or show the application instance certificate",
	Long: `Load the application certificate from <security.pki_dir>/own, creating a
self-signed RSA 2048 certificate with SAN URI urn:<host>:<application_name>
on first use.

Examples:
  keybridge gencert
  keybridge gencert --force --host plc-gateway.local`,
	RunE: runGencert,
}

var (
	gencertForce bool
	gencertHost  string
)

func init() {
	gencertCmd.Flags().BoolVar(&gencertForce, "force", false, "Replace an existing certificate")
	gencertCmd.Flags().StringVar(&gencertHost, "host", "", "Host name in the certificate (default this host)")
}

func runGencert(cmd *cobra.Command, args []string) error {
	host := gencertHost
	if host == "" {
		host = hostname()
	}
	if gencertForce {
		if err := os.RemoveAll(filepath.Join(cfg.Security.PKIDir, "own")); err != nil {
			return fmt.Errorf("remove old certificate: %w", err)
		}
	}

	id, created, err := opcua.LoadOrCreateIdentity(cfg.Security.PKIDir, cfg.Security.ApplicationName, host)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("Created application certificate")
	} else {
		fmt.Println("Existing application certificate")
	}

	c := id.Certificate
	fmt.Printf("  PKI directory:   %s\n", cfg.Security.PKIDir)
	fmt.Printf("  Subject:         %s\n", c.Subject)
	fmt.Printf("  Application URI: %s\n", id.ApplicationURI)
	fmt.Printf("  Serial:          %X\n", c.SerialNumber)
	fmt.Printf("  Valid:           %s to %s\n", c.NotBefore.Format("2006-01-02"), c.NotAfter.Format("2006-01-02"))
	fmt.Printf("  Thumbprint:      %X\n", id.Thumbprint())
	fmt.Printf("\nCopy %s into the server's trusted store.\n", filepath.Join(cfg.Security.PKIDir, "own", "cert.pem"))
	return nil
}
