// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the configuration of the virteth command.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Interface InterfaceConfig `mapstructure:"interface"`
	Addresses []string        `mapstructure:"addresses"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Pcap      PcapConfig      `mapstructure:"pcap"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
}

// InterfaceConfig configures the simulated interface.
type InterfaceConfig struct {
	Name         string     `mapstructure:"name"`
	MTU          uint32     `mapstructure:"mtu"`
	RingCapacity int        `mapstructure:"ring_capacity"`
	Budget       int        `mapstructure:"budget"`
	PoolCapacity int        `mapstructure:"pool_capacity"`
	Admission    string     `mapstructure:"admission"`
	Link         LinkConfig `mapstructure:"link"`
}

// LinkConfig contains the initial link settings.
type LinkConfig struct {
	Speed   uint32 `mapstructure:"speed"`
	Duplex  string `mapstructure:"duplex"`
	Autoneg bool   `mapstructure:"autoneg"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig configures the prometheus endpoint. An
// empty address disables the endpoint.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// PcapConfig configures packet capture. An empty file disables capture.
type PcapConfig struct {
	File    string `mapstructure:"file"`
	Snaplen int    `mapstructure:"snaplen"`
}

// BenchmarkConfig configures the UDP loopback benchmark.
type BenchmarkConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	Port     uint16        `mapstructure:"port"`
	Payload  int           `mapstructure:"payload"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Interface.Link.Autoneg = true
	cfg.Interface.Link.Speed = 1000
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration file at path, whose format is
// inferred from the extension (e.g., YAML, TOML, JSON).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("interface.link.autoneg", true)
	v.SetDefault("interface.link.speed", 1000)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Interface.Name == "" {
		cfg.Interface.Name = "virteth0"
	}
	if cfg.Interface.MTU == 0 {
		cfg.Interface.MTU = 1500
	}
	if cfg.Interface.RingCapacity == 0 {
		cfg.Interface.RingCapacity = 64
	}
	if cfg.Interface.Budget == 0 {
		cfg.Interface.Budget = 64
	}
	if cfg.Interface.Admission == "" {
		cfg.Interface.Admission = "rx"
	}
	if cfg.Interface.Link.Duplex == "" {
		cfg.Interface.Link.Duplex = "full"
	}
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{"10.0.0.1"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Pcap.Snaplen == 0 {
		cfg.Pcap.Snaplen = 1500
	}
	if cfg.Benchmark.Duration == 0 {
		cfg.Benchmark.Duration = 5 * time.Second
	}
	if cfg.Benchmark.Port == 0 {
		cfg.Benchmark.Port = 9
	}
	if cfg.Benchmark.Payload == 0 {
		cfg.Benchmark.Payload = 1024
	}
}

func validate(cfg *Config) error {
	if cfg.Interface.RingCapacity < 0 {
		return errors.New("interface.ring_capacity must be positive")
	}
	if cfg.Interface.Budget < 0 {
		return errors.New("interface.budget must be positive")
	}
	switch cfg.Interface.Admission {
	case "rx", "tx":
	default:
		return fmt.Errorf("interface.admission: unknown policy %q", cfg.Interface.Admission)
	}
	switch cfg.Interface.Link.Duplex {
	case "half", "full":
	default:
		return fmt.Errorf("interface.link.duplex: unknown mode %q", cfg.Interface.Link.Duplex)
	}
	for _, addr := range cfg.Addresses {
		if _, err := netip.ParseAddr(addr); err != nil {
			return fmt.Errorf("addresses: %w", err)
		}
	}
	if cfg.Pcap.Snaplen < 0 || cfg.Pcap.Snaplen > 65535 {
		return fmt.Errorf("pcap.snaplen out of range: %d", cfg.Pcap.Snaplen)
	}
	if cfg.Benchmark.Payload < 0 {
		return errors.New("benchmark.payload must be positive")
	}
	return nil
}
