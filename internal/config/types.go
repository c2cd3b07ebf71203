// Package config provides configuration loading for sans-forward using
// Viper. Configuration is loaded from an optional YAML file with
// environment variable overrides (`SANS_` prefix, underscore-separated
// keys, e.g. SANS_LISTEN_PORT -> listen.port).
//
// Per this forwarder's design, configuration loading is an external
// collaborator: the core packages (internal/forwarder, internal/server,
// ...) never parse config themselves, they only consume the populated
// *Config this package produces.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Endpoint is a host:port pair used for every upstream and listen
// address in the configuration.
type Endpoint struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// String renders the endpoint as "addr:port" for dialing/listening.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// ProbeConfig controls the poisoning-detection probe.
type ProbeConfig struct {
	// Server is the resolver the probe SOA query is sent to.
	Server Endpoint `yaml:"server" mapstructure:"server"`
	// SignalType is the RR type whose presence as the first answer of a
	// probe reply marks a name as poisoned. Defaults to TypeA (1), but
	// is parameterized here since the "probe resolver never answers SOA
	// with an A" assumption is brittle and should be adjustable per
	// probe resolver.
	SignalType uint16 `yaml:"signal_type" mapstructure:"signal_type"`
}

// SOCKS5Config controls the optional SOCKS5 tunnel to the trusted
// server. An empty Addr disables it.
type SOCKS5Config struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// Enabled reports whether a SOCKS5 proxy is configured.
func (s SOCKS5Config) Enabled() bool { return s.Addr != "" }

// Endpoint renders the proxy address as "addr:port".
func (s SOCKS5Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", s.Addr, s.Port)
}

// LoggingConfig controls how the process emits its logs.
type LoggingConfig struct {
	Level            string `yaml:"level"             mapstructure:"level"`
	Structured       bool   `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool   `yaml:"include_pid"       mapstructure:"include_pid"`
}

// AdminConfig controls the read-only admin HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// Config is the root configuration record, populated once at startup by
// Load and never mutated afterward.
type Config struct {
	Listen        Endpoint     `yaml:"listen"         mapstructure:"listen"`
	Probe         ProbeConfig  `yaml:"probe"          mapstructure:"probe"`
	CNServer      Endpoint     `yaml:"cn_server"      mapstructure:"cn_server"`
	TrustedServer Endpoint     `yaml:"trusted_server" mapstructure:"trusted_server"`
	SOCKS5        SOCKS5Config `yaml:"socks5"         mapstructure:"socks5"`

	// NSPResolver selects the UDP path for the trusted server instead
	// of TCP/SOCKS5.
	NSPResolver bool `yaml:"nspresolver" mapstructure:"nspresolver"`
	// Verbose maps onto slog.LevelDebug vs slog.LevelInfo (the
	// original's two-level verbosity split), independent of
	// Logging.Level so an operator can flip one flag for
	// troubleshooting without touching the structured-logging config.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	Daemon  bool `yaml:"daemon"  mapstructure:"daemon"`

	User    string `yaml:"user"    mapstructure:"user"`
	PIDFile string `yaml:"pidfile" mapstructure:"pidfile"`
	LogFile string `yaml:"logfile" mapstructure:"logfile"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Admin   AdminConfig   `yaml:"admin"   mapstructure:"admin"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("SANS_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable
// overrides. This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (SANS_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
