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
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/keybridge/config"
	"github.com/edgeo-scada/keybridge/internal/logging"
)

var (
	v          = config.NewViper()
	cfg        *config.Config
	logger     *slog.Logger
	logCloser  io.Closer
	configFile string
	timeout    int
)

var rootCmd = &cobra.Command{
	Use:   "keybridge",
	Short: "Bridge an operator panel's key switches to a PLC over OPC UA",
	Long: `keybridge samples the key switches and key matrix of an operator panel and
writes every change to PLC variables over an OPC UA session that survives
network and server outages.

Examples:
  keybridge run -a 192.168.0.10
  keybridge write ::AsGlobalPV:KeySwitch 0x0A --type uint16
  keybridge read ::AsGlobalPV:KeySwitch
  keybridge endpoints -a 192.168.0.10
  keybridge serve --advertise`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./keybridge.yaml or /etc/keybridge/keybridge.yaml)")
	flags.StringP("address", "a", "", "PLC address (empty uses mDNS discovery)")
	flags.IntP("port", "p", 4840, "PLC OPC UA port")
	flags.String("stack", config.StackNative, "OPC UA stack: native or gopcua")
	flags.String("log-level", "error", "Log level: debug, info, warn, error")
	flags.String("log-format", "json", "Log format: json or console")
	flags.IntVarP(&timeout, "timeout", "t", 10000, "Timeout of one-shot operations in milliseconds")

	v.BindPFlag("plc.address", flags.Lookup("address"))
	v.BindPFlag("plc.port", flags.Lookup("port"))
	v.BindPFlag("stack", flags.Lookup("stack"))
	v.BindPFlag("options.log_level", flags.Lookup("log-level"))
	v.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(gencertCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and builds the logger. Commands annotated
// with skipConfig run on defaults.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if _, skip := cmd.Annotations[skipConfig]; skip {
		cfg = config.Default()
	} else if cfg, err = config.Load(v, configFile); err != nil {
		return err
	}

	logger, logCloser, err = logging.New(logging.Options{
		Level:  cfg.Options.LogLevel,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	slog.SetDefault(logger)
	return nil
}

const skipConfig = "skip-config"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
