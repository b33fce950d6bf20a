// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the sockdbg configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bassosimone/sockpoll"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment overrides.
//
// Keys map to variables by replacing `.` and `-` with `_`, for example
// SOCKDBG_LOG_LEVEL=debug or SOCKDBG_NET_WRITE_TIMEOUT_MS=50.
const EnvPrefix = "SOCKDBG"

// Config is the root application configuration.
type Config struct {
	// Log configures the structured log sink.
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Net configures the socket engine.
	Net NetConfig `mapstructure:"net" yaml:"net"`

	// Endpoints are the addresses prefilled in the terminal UI.
	Endpoints EndpointsConfig `mapstructure:"endpoints" yaml:"endpoints"`
}

// LogConfig configures the structured log sink.
//
// The terminal belongs to the UI, so events go to File or nowhere.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`

	// File is the JSON log file; empty disables logging.
	File string `mapstructure:"file" yaml:"file"`

	// Rotation controls log file rotation.
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// NetConfig configures the socket engine.
type NetConfig struct {
	AcceptPollMS   int  `mapstructure:"accept_poll_ms" yaml:"accept_poll_ms"`
	ReadPollMS     int  `mapstructure:"read_poll_ms" yaml:"read_poll_ms"`
	WriteTimeoutMS int  `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms"`
	BufferSize     int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	RequireUTF8    bool `mapstructure:"require_utf8" yaml:"require_utf8"`

	// UDPLocal is the local HOST:PORT of UDP client sockets; empty
	// selects an ephemeral port.
	UDPLocal string `mapstructure:"udp_local" yaml:"udp_local"`
}

// EndpointsConfig holds the addresses prefilled in the terminal UI.
type EndpointsConfig struct {
	TCPServer string `mapstructure:"tcp_server" yaml:"tcp_server"`
	UDPServer string `mapstructure:"udp_server" yaml:"udp_server"`
	TCPClient string `mapstructure:"tcp_client" yaml:"tcp_client"`
	UDPClient string `mapstructure:"udp_client" yaml:"udp_client"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Net: NetConfig{
			AcceptPollMS:   20,
			ReadPollMS:     10,
			WriteTimeoutMS: 10,
			BufferSize:     1024,
			RequireUTF8:    true,
		},
		Endpoints: EndpointsConfig{
			TCPServer: "127.0.0.1:8080",
			UDPServer: "127.0.0.1:8081",
			TCPClient: "127.0.0.1:8080",
			UDPClient: "127.0.0.1:8081",
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches ./sockdbg.yaml and ~/.sockdbg/sockdbg.yaml. A missing file is
// not an error. Environment variables override both, see [EnvPrefix].
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("net.accept_poll_ms", cfg.Net.AcceptPollMS)
	v.SetDefault("net.read_poll_ms", cfg.Net.ReadPollMS)
	v.SetDefault("net.write_timeout_ms", cfg.Net.WriteTimeoutMS)
	v.SetDefault("net.buffer_size", cfg.Net.BufferSize)
	v.SetDefault("net.require_utf8", cfg.Net.RequireUTF8)
	v.SetDefault("net.udp_local", cfg.Net.UDPLocal)
	v.SetDefault("endpoints.tcp_server", cfg.Endpoints.TCPServer)
	v.SetDefault("endpoints.udp_server", cfg.Endpoints.UDPServer)
	v.SetDefault("endpoints.tcp_client", cfg.Endpoints.TCPClient)
	v.SetDefault("endpoints.udp_client", cfg.Endpoints.UDPClient)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sockdbg")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sockdbg"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes the log level.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	positive := []struct {
		key   string
		value int
	}{
		{"net.accept_poll_ms", c.Net.AcceptPollMS},
		{"net.read_poll_ms", c.Net.ReadPollMS},
		{"net.buffer_size", c.Net.BufferSize},
	}
	for _, entry := range positive {
		if entry.value <= 0 {
			return fmt.Errorf("invalid %s: %d (must be positive)", entry.key, entry.value)
		}
	}
	if c.Net.WriteTimeoutMS < 0 {
		return fmt.Errorf("invalid net.write_timeout_ms: %d", c.Net.WriteTimeoutMS)
	}

	if c.Net.UDPLocal != "" {
		if _, err := ParseEndpoint(c.Net.UDPLocal); err != nil {
			return fmt.Errorf("invalid net.udp_local: %w", err)
		}
	}
	endpoints := map[string]string{
		"endpoints.tcp_server": c.Endpoints.TCPServer,
		"endpoints.udp_server": c.Endpoints.UDPServer,
		"endpoints.tcp_client": c.Endpoints.TCPClient,
		"endpoints.udp_client": c.Endpoints.UDPClient,
	}
	for key, value := range endpoints {
		if value == "" {
			continue
		}
		if _, err := ParseEndpoint(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

// ParseEndpoint splits a HOST:PORT string and resolves it with
// [sockpoll.ResolveEndpoint].
func ParseEndpoint(value string) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(value)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return sockpoll.ResolveEndpoint(host, port)
}

// Engine returns the [*sockpoll.Config] described by c.
func (c *Config) Engine() (*sockpoll.Config, error) {
	cfg := sockpoll.NewConfig()
	cfg.AcceptPollInterval = time.Duration(c.Net.AcceptPollMS) * time.Millisecond
	cfg.ReadPollInterval = time.Duration(c.Net.ReadPollMS) * time.Millisecond
	cfg.WriteTimeout = time.Duration(c.Net.WriteTimeoutMS) * time.Millisecond
	cfg.BufferSize = c.Net.BufferSize
	cfg.RequireUTF8 = c.Net.RequireUTF8
	if c.Net.UDPLocal != "" {
		local, err := ParseEndpoint(c.Net.UDPLocal)
		if err != nil {
			return nil, fmt.Errorf("invalid net.udp_local: %w", err)
		}
		cfg.PacketDialer = sockpoll.NewUDPDialer(local)
	}
	return cfg, nil
}

// Dump writes c to w as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
