// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "virteth.yaml", `
interface:
  name: veth7
  mtu: 9000
  ring_capacity: 128
  budget: 16
  pool_capacity: 32
  admission: tx
  link:
    speed: 100
    duplex: half
    autoneg: false
addresses:
  - 10.0.0.7
  - 2001:db8::7
logging:
  level: debug
metrics:
  address: 127.0.0.1:9100
pcap:
  file: out.pcap
  snaplen: 256
benchmark:
  duration: 2s
  port: 5001
  payload: 512
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "veth7", cfg.Interface.Name)
	assert.Equal(t, uint32(9000), cfg.Interface.MTU)
	assert.Equal(t, 128, cfg.Interface.RingCapacity)
	assert.Equal(t, 16, cfg.Interface.Budget)
	assert.Equal(t, 32, cfg.Interface.PoolCapacity)
	assert.Equal(t, "tx", cfg.Interface.Admission)
	assert.Equal(t, LinkConfig{Speed: 100, Duplex: "half", Autoneg: false}, cfg.Interface.Link)
	assert.Equal(t, []string{"10.0.0.7", "2001:db8::7"}, cfg.Addresses)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, PcapConfig{File: "out.pcap", Snaplen: 256}, cfg.Pcap)
	assert.Equal(t, 2*time.Second, cfg.Benchmark.Duration)
	assert.Equal(t, uint16(5001), cfg.Benchmark.Port)
	assert.Equal(t, 512, cfg.Benchmark.Payload)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "virteth.yaml", "logging:\n  level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	expect := Default()
	expect.Logging.Level = "warn"
	assert.Equal(t, expect, cfg)
	assert.True(t, cfg.Interface.Link.Autoneg)
}

func TestLoadKeepsZeroLinkSpeed(t *testing.T) {
	path := writeConfig(t, "virteth.yaml", "interface:\n  link:\n    speed: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cfg.Interface.Link.Speed)
	assert.Equal(t, "full", cfg.Interface.Link.Duplex)
	assert.True(t, cfg.Interface.Link.Autoneg)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "virteth0", cfg.Interface.Name)
	assert.Equal(t, 64, cfg.Interface.RingCapacity)
	assert.Equal(t, 64, cfg.Interface.Budget)
	assert.Equal(t, "rx", cfg.Interface.Admission)
	assert.Equal(t, LinkConfig{Speed: 1000, Duplex: "full", Autoneg: true}, cfg.Interface.Link)
	assert.Equal(t, []string{"10.0.0.1"}, cfg.Addresses)
	assert.NoError(t, validate(cfg))
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("unknown_admission", func(t *testing.T) {
		path := writeConfig(t, "virteth.yaml", "interface:\n  admission: sideways\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sideways")
	})

	t.Run("unknown_duplex", func(t *testing.T) {
		path := writeConfig(t, "virteth.yaml", "interface:\n  link:\n    duplex: triple\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("invalid_address", func(t *testing.T) {
		path := writeConfig(t, "virteth.yaml", "addresses:\n  - not-an-ip\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("negative_ring_capacity", func(t *testing.T) {
		path := writeConfig(t, "virteth.yaml", "interface:\n  ring_capacity: -1\n")
		_, err := Load(path)
		require.Error(t, err)
	})
}
