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


// Package config loads the keybridge configuration with viper.
//
// Values come from defaults, then the config file (YAML, JSON or TOML),
// then KEYBRIDGE_ environment variables, then bound command line flags.
// Nested keys map to environment names by replacing "." with "_", so
// session.reconnect_period is KEYBRIDGE_SESSION_RECONNECT_PERIOD.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYBRIDGE"

// Stack names.
const (
	StackNative = "native"
	StackGopcua = "gopcua"
)

// DefaultNamespace is the namespace of the PLC's global variables.
const DefaultNamespace uint16 = 6

// Config is the complete keybridge configuration.
type Config struct {
	PLC       PLC       `mapstructure:"plc" yaml:"plc"`
	Options   Options   `mapstructure:"options" yaml:"options"`
	Variables Variables `mapstructure:"variables" yaml:"variables"`
	Session   Session   `mapstructure:"session" yaml:"session"`
	Security  Security  `mapstructure:"security" yaml:"security"`
	Discovery Discovery `mapstructure:"discovery" yaml:"discovery"`
	Stack     string    `mapstructure:"stack" yaml:"stack"`
	Log       Log       `mapstructure:"log" yaml:"log"`
}

// PLC locates the OPC UA server. An empty address enables mDNS discovery.
type PLC struct {
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

type Options struct {
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	UpdateInterval time.Duration `mapstructure:"update_interval" yaml:"update_interval"`
}

// Variable names one PLC variable. A zero namespace inherits
// Variables.Namespace. Key is the panel key number for key matrix entries.
type Variable struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Namespace uint16 `mapstructure:"namespace" yaml:"namespace,omitempty"`
	Key       int    `mapstructure:"key_index" yaml:"key_index,omitempty"`
}

type Variables struct {
	Namespace uint16     `mapstructure:"namespace" yaml:"namespace"`
	KeySwitch Variable   `mapstructure:"key_switch" yaml:"key_switch"`
	KeyMatrix []Variable `mapstructure:"key_matrix" yaml:"key_matrix"`
}

// KeySwitchRef returns the reference of the key switch variable.
func (v Variables) KeySwitchRef() session.VariableRef {
	return session.NewRef(v.KeySwitch.Name, v.namespace(v.KeySwitch))
}

// KeyRefs returns one reference per key matrix entry.
func (v Variables) KeyRefs() []session.VariableRef {
	refs := make([]session.VariableRef, 0, len(v.KeyMatrix))
	for _, k := range v.KeyMatrix {
		refs = append(refs, session.KeyRef(k.Name, v.namespace(k), k.Key))
	}
	return refs
}

func (v Variables) namespace(x Variable) uint16 {
	if x.Namespace != 0 {
		return x.Namespace
	}
	return v.Namespace
}

type Session struct {
	Timeout              time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeepAliveInterval    time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	ReconnectPeriod      time.Duration `mapstructure:"reconnect_period" yaml:"reconnect_period"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBackoff     float64       `mapstructure:"reconnect_backoff" yaml:"reconnect_backoff"`
	MaxReconnectPeriod   time.Duration `mapstructure:"max_reconnect_period" yaml:"max_reconnect_period"`
	PublishingInterval   time.Duration `mapstructure:"publishing_interval" yaml:"publishing_interval"`
	SamplingInterval     time.Duration `mapstructure:"sampling_interval" yaml:"sampling_interval"`
}

type Security struct {
	PKIDir              string `mapstructure:"pki_dir" yaml:"pki_dir"`
	ApplicationName     string `mapstructure:"application_name" yaml:"application_name"`
	Policy              string `mapstructure:"policy" yaml:"policy"`
	Mode                string `mapstructure:"mode" yaml:"mode"`
	AutoAcceptUntrusted bool   `mapstructure:"auto_accept_untrusted" yaml:"auto_accept_untrusted"`
}

type Discovery struct {
	MDNS          bool          `mapstructure:"mdns" yaml:"mdns"`
	BrowseTimeout time.Duration `mapstructure:"browse_timeout" yaml:"browse_timeout"`
}

type Log struct {
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	s := session.DefaultConfig()
	return &Config{
		PLC: PLC{Address: "127.0.0.1", Port: opcua.DefaultPort},
		Options: Options{
			LogLevel:       "error",
			UpdateInterval: 100 * time.Millisecond,
		},
		Variables: Variables{
			Namespace: DefaultNamespace,
			KeySwitch: Variable{Name: "::AsGlobalPV:KeySwitch"},
		},
		Session: Session{
			Timeout:              s.SessionTimeout,
			KeepAliveInterval:    s.KeepAliveInterval,
			ReconnectPeriod:      s.ReconnectPeriod,
			MaxReconnectAttempts: s.MaxReconnectAttempts,
			ReconnectBackoff:     s.ReconnectBackoff,
			MaxReconnectPeriod:   s.MaxReconnectPeriod,
			PublishingInterval:   s.PublishingInterval,
			SamplingInterval:     s.SamplingInterval,
		},
		Security: Security{
			PKIDir:          "pki",
			ApplicationName: "keybridge",
			Policy:          "None",
			Mode:            "None",
		},
		Discovery: Discovery{
			MDNS:          true,
			BrowseTimeout: 3 * time.Second,
		},
		Stack: StackNative,
		Log:   Log{Format: "json"},
	}
}

// Starter returns the configuration written by "keybridge config init":
// the defaults plus a sample key matrix.
func Starter() *Config {
	c := Default()
	c.Variables.KeyMatrix = []Variable{
		{Name: "::AsGlobalPV:Key1", Key: 1},
		{Name: "::AsGlobalPV:Key2", Key: 2},
	}
	return c
}

// NewViper returns a viper instance carrying the defaults and the
// environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("plc.address", d.PLC.Address)
	v.SetDefault("plc.port", d.PLC.Port)
	v.SetDefault("options.log_level", d.Options.LogLevel)
	v.SetDefault("options.update_interval", d.Options.UpdateInterval)
	v.SetDefault("variables.namespace", d.Variables.Namespace)
	v.SetDefault("variables.key_switch.name", d.Variables.KeySwitch.Name)
	v.SetDefault("session.timeout", d.Session.Timeout)
	v.SetDefault("session.keepalive_interval", d.Session.KeepAliveInterval)
	v.SetDefault("session.reconnect_period", d.Session.ReconnectPeriod)
	v.SetDefault("session.max_reconnect_attempts", d.Session.MaxReconnectAttempts)
	v.SetDefault("session.reconnect_backoff", d.Session.ReconnectBackoff)
	v.SetDefault("session.max_reconnect_period", d.Session.MaxReconnectPeriod)
	v.SetDefault("session.publishing_interval", d.Session.PublishingInterval)
	v.SetDefault("session.sampling_interval", d.Session.SamplingInterval)
	v.SetDefault("security.pki_dir", d.Security.PKIDir)
	v.SetDefault("security.application_name", d.Security.ApplicationName)
	v.SetDefault("security.policy", d.Security.Policy)
	v.SetDefault("security.mode", d.Security.Mode)
	v.SetDefault("security.auto_accept_untrusted", d.Security.AutoAcceptUntrusted)
	v.SetDefault("discovery.mdns", d.Discovery.MDNS)
	v.SetDefault("discovery.browse_timeout", d.Discovery.BrowseTimeout)
	v.SetDefault("stack", d.Stack)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads path into v and decodes the result. With an empty path,
// keybridge.{yaml,json,toml} is searched in the working directory and in
// /etc/keybridge; a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("keybridge")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/keybridge")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bridge cannot run with.
func (c *Config) Validate() error {
	if c.PLC.Port < 1 || c.PLC.Port > 65535 {
		return fmt.Errorf("config: plc.port %d out of range", c.PLC.Port)
	}
	if c.Options.UpdateInterval <= 0 {
		return fmt.Errorf("config: options.update_interval must be positive")
	}
	if c.Variables.KeySwitch.Name == "" {
		return fmt.Errorf("config: variables.key_switch.name is empty")
	}
	for i, k := range c.Variables.KeyMatrix {
		if k.Name == "" {
			return fmt.Errorf("config: variables.key_matrix[%d].name is empty", i)
		}
		if k.Key < 0 {
			return fmt.Errorf("config: variables.key_matrix[%d].key_index is negative", i)
		}
	}
	if c.Session.ReconnectBackoff < 1 {
		return fmt.Errorf("config: session.reconnect_backoff %.2f below 1", c.Session.ReconnectBackoff)
	}
	switch c.Stack {
	case StackNative, StackGopcua:
	default:
		return fmt.Errorf("config: unknown stack %q", c.Stack)
	}
	if _, err := opcua.ParseSecurityMode(c.Security.Mode); err != nil {
		return fmt.Errorf("config: security.mode: %w", err)
	}
	s, err := c.SessionConfig()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SessionConfig converts the plc, session and security sections.
func (c *Config) SessionConfig() (session.Config, error) {
	mode, err := opcua.ParseSecurityMode(c.Security.Mode)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: security.mode: %w", err)
	}
	s := session.DefaultConfig()
	s.Address = c.PLC.Address
	s.Port = c.PLC.Port
	s.SecurityPolicy = c.Security.Policy
	s.SecurityMode = mode
	if c.Security.ApplicationName != "" {
		s.SessionName = c.Security.ApplicationName
	}
	s.SessionTimeout = c.Session.Timeout
	s.KeepAliveInterval = c.Session.KeepAliveInterval
	s.ReconnectPeriod = c.Session.ReconnectPeriod
	s.MaxReconnectAttempts = c.Session.MaxReconnectAttempts
	s.ReconnectBackoff = c.Session.ReconnectBackoff
	s.MaxReconnectPeriod = c.Session.MaxReconnectPeriod
	s.PublishingInterval = c.Session.PublishingInterval
	s.SamplingInterval = c.Session.SamplingInterval
	if c.Discovery.BrowseTimeout > 0 {
		s.ResolveTimeout = c.Discovery.BrowseTimeout + s.SessionTimeout
	}
	return s, nil
}

// Write stores cfg as YAML at path. An existing file is kept unless
// overwrite is set.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists", path)
		}
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return data, nil
}
