// Package config provides configuration loading and validation for
// sans-forward.
//
// Configuration is loaded with the following priority (highest to
// lowest):
//  1. Environment variables (SANS_* prefix)
//  2. YAML config file (if specified with --config)
//  3. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness
// early, so startup failures happen before any socket is opened.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variable binding: SANS_LISTEN_PORT -> listen.port
	v.SetEnvPrefix("SANS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures every default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.addr", "127.0.0.1")
	v.SetDefault("listen.port", 53)

	v.SetDefault("probe.server.addr", "8.8.8.8")
	v.SetDefault("probe.server.port", 53)
	v.SetDefault("probe.signal_type", 1) // dnswire.TypeA

	v.SetDefault("cn_server.addr", "114.114.114.114")
	v.SetDefault("cn_server.port", 53)

	v.SetDefault("trusted_server.addr", "8.8.4.4")
	v.SetDefault("trusted_server.port", 53)

	v.SetDefault("socks5.addr", "")
	v.SetDefault("socks5.port", 1080)

	v.SetDefault("nspresolver", false)
	v.SetDefault("verbose", false)
	v.SetDefault("daemon", false)
	v.SetDefault("user", "")
	v.SetDefault("pidfile", "")
	v.SetDefault("logfile", "")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8080)
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadListenConfig(v, cfg)
	loadUpstreamConfig(v, cfg)
	loadTransportConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAdminConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadListenConfig(v *viper.Viper, cfg *Config) {
	cfg.Listen.Addr = v.GetString("listen.addr")
	cfg.Listen.Port = v.GetInt("listen.port")
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) {
	cfg.Probe.Server.Addr = v.GetString("probe.server.addr")
	cfg.Probe.Server.Port = v.GetInt("probe.server.port")
	cfg.Probe.SignalType = uint16(v.GetUint32("probe.signal_type")) //nolint:gosec // configured RR type, small values only

	cfg.CNServer.Addr = v.GetString("cn_server.addr")
	cfg.CNServer.Port = v.GetInt("cn_server.port")

	cfg.TrustedServer.Addr = v.GetString("trusted_server.addr")
	cfg.TrustedServer.Port = v.GetInt("trusted_server.port")
}

func loadTransportConfig(v *viper.Viper, cfg *Config) {
	cfg.SOCKS5.Addr = v.GetString("socks5.addr")
	cfg.SOCKS5.Port = v.GetInt("socks5.port")
	cfg.NSPResolver = v.GetBool("nspresolver")
	cfg.Verbose = v.GetBool("verbose")
	cfg.Daemon = v.GetBool("daemon")
	cfg.User = v.GetString("user")
	cfg.PIDFile = v.GetString("pidfile")
	cfg.LogFile = v.GetString("logfile")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
}

func loadAdminConfig(v *viper.Viper, cfg *Config) {
	cfg.Admin.Enabled = v.GetBool("admin.enabled")
	cfg.Admin.Host = v.GetString("admin.host")
	cfg.Admin.Port = v.GetInt("admin.port")
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return errors.New("listen.port must be 1..65535")
	}
	if cfg.Probe.Server.Addr == "" {
		return errors.New("probe.server.addr must be set")
	}
	if cfg.CNServer.Addr == "" {
		return errors.New("cn_server.addr must be set")
	}
	if cfg.TrustedServer.Addr == "" {
		return errors.New("trusted_server.addr must be set")
	}
	if cfg.Probe.SignalType == 0 {
		cfg.Probe.SignalType = 1 // dnswire.TypeA
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}

	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Enabled {
		if cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535 {
			return errors.New("admin.port must be 1..65535")
		}
	}

	if cfg.SOCKS5.Enabled() {
		if cfg.SOCKS5.Port <= 0 || cfg.SOCKS5.Port > 65535 {
			return errors.New("socks5.port must be 1..65535")
		}
	}

	return nil
}
