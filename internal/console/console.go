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


// Package console is the interactive shell of "keybridge console". It
// drives a simulated panel and talks to the PLC through the session
// manager.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/panel"
	"github.com/edgeo-scada/keybridge/session"
)

// Bridge is the part of *session.Manager the console uses.
type Bridge interface {
	State() session.State
	SessionID() string
	Endpoint() session.Endpoint
	Write(ctx context.Context, ref session.VariableRef, value interface{}) error
	Read(ctx context.Context, ref session.VariableRef) (*opcua.DataValue, error)
	Metrics() *session.Metrics
}

// Console executes shell commands.
type Console struct {
	bridge    Bridge
	panel     *panel.SimPanel
	stats     *panel.Stats
	namespace uint16
	timeout   time.Duration
}

// New returns a console. stats may be nil.
func New(b Bridge, p *panel.SimPanel, stats *panel.Stats, namespace uint16) *Console {
	return &Console{bridge: b, panel: p, stats: stats, namespace: namespace, timeout: 5 * time.Second}
}

// Run reads commands until quit, EOF or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "keybridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer rl.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rl.Close()
		case <-done:
		}
	}()

	c.help(rl.Stdout())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		if quit := c.Exec(ctx, line, rl.Stdout()); quit {
			return nil
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (c *Console) Exec(ctx context.Context, line string, out io.Writer) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.help(out)
	case "key", "k":
		err = c.cmdKey(args, out)
	case "switch", "s":
		err = c.cmdSwitch(args, out)
	case "switches":
		err = c.cmdSwitches(args, out)
	case "write", "w":
		err = c.cmdWrite(ctx, args, out)
	case "read", "r":
		err = c.cmdRead(ctx, args, out)
	case "state":
		c.cmdState(out)
	case "metrics", "m":
		c.cmdMetrics(out)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func (c *Console) help(out io.Writer) {
	fmt.Fprintln(out, `Commands:
  key <n> [on|off]          toggle or set key n of the simulated key matrix
  switch <bit>              toggle one bit of the simulated key switches
  switches <byte>           set the key switch byte (0x0A, 10, 0b1010)
  write <name> <value> [type] [ns]
                            write a PLC variable (type: bool, uint16, int32, float, double, string)
  read <name> [ns]          read a PLC variable
  state                     show the connection state
  metrics                   show session and sampler counters
  quit                      leave the console`)
}

func (c *Console) cmdKey(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: key <n> [on|off]")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("invalid key %q", args[0])
	}
	var pressed bool
	if len(args) > 1 {
		switch strings.ToLower(args[1]) {
		case "on", "1", "true":
			pressed = true
		case "off", "0", "false":
		default:
			return fmt.Errorf("invalid key state %q", args[1])
		}
		c.panel.SetKey(n, pressed)
	} else {
		pressed = c.panel.ToggleKey(n)
	}
	fmt.Fprintf(out, "key %d: %t\n", n, pressed)
	return nil
}

func (c *Console) cmdSwitch(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: switch <bit>")
	}
	bit, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil || bit > 7 {
		return fmt.Errorf("invalid bit %q", args[0])
	}
	fmt.Fprintf(out, "key switches: %02Xh\n", c.panel.ToggleSwitch(uint(bit)))
	return nil
}

func (c *Console) cmdSwitches(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: switches <byte>")
	}
	v, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid byte %q", args[0])
	}
	c.panel.SetKeySwitches(uint8(v))
	fmt.Fprintf(out, "key switches: %02Xh\n", v)
	return nil
}

func (c *Console) ref(name string, nsArg string) (session.VariableRef, error) {
	ns := c.namespace
	if nsArg != "" {
		v, err := strconv.ParseUint(nsArg, 10, 16)
		if err != nil {
			return session.VariableRef{}, fmt.Errorf("invalid namespace %q", nsArg)
		}
		ns = uint16(v)
	}
	return session.NewRef(name, ns), nil
}

func (c *Console) cmdWrite(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: write <name> <value> [type] [ns]")
	}
	typ, ns := "", ""
	if len(args) > 2 {
		typ = args[2]
	}
	if len(args) > 3 {
		ns = args[3]
	}
	ref, err := c.ref(args[0], ns)
	if err != nil {
		return err
	}
	value, err := ParseValue(args[1], typ)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.bridge.Write(ctx, ref, value); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s = %v\n", ref, value)
	return nil
}

func (c *Console) cmdRead(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: read <name> [ns]")
	}
	ns := ""
	if len(args) > 1 {
		ns = args[1]
	}
	ref, err := c.ref(args[0], ns)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	dv, err := c.bridge.Read(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s = %v\n", ref, dv.Value)
	return nil
}

func (c *Console) cmdState(out io.Writer) {
	fmt.Fprintf(out, "state:    %s\n", c.bridge.State())
	fmt.Fprintf(out, "endpoint: %s\n", c.bridge.Endpoint().URL)
	if id := c.bridge.SessionID(); id != "" {
		fmt.Fprintf(out, "session:  %s\n", id)
	}
}

func (c *Console) cmdMetrics(out io.Writer) {
	printMap(out, c.bridge.Metrics().Collect())
	if c.stats != nil {
		m := make(map[string]interface{})
		for k, v := range c.stats.Collect() {
			m["sampler_"+k] = v
		}
		printMap(out, m)
	}
}

func printMap(out io.Writer, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-24s %v\n", k, m[k])
	}
}

// ParseValue converts s to the Go type for typ. An empty typ infers true/false
// as Boolean, then integer (Int32), then Double, then String.
func ParseValue(s, typ string) (interface{}, error) {
	switch strings.ToLower(typ) {
	case "":
		switch strings.ToLower(s) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if i, err := strconv.ParseInt(s, 0, 32); err == nil {
			return int32(i), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return s, nil
	case "bool", "boolean":
		return strconv.ParseBool(s)
	case "byte":
		v, err := strconv.ParseUint(s, 0, 8)
		return uint8(v), err
	case "uint16":
		v, err := strconv.ParseUint(s, 0, 16)
		return uint16(v), err
	case "int16":
		v, err := strconv.ParseInt(s, 0, 16)
		return int16(v), err
	case "uint32":
		v, err := strconv.ParseUint(s, 0, 32)
		return uint32(v), err
	case "int32", "int":
		v, err := strconv.ParseInt(s, 0, 32)
		return int32(v), err
	case "int64":
		return strconv.ParseInt(s, 0, 64)
	case "float":
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case "double":
		return strconv.ParseFloat(s, 64)
	case "string":
		return s, nil
	}
	return nil, fmt.Errorf("unknown type %q", typ)
}
