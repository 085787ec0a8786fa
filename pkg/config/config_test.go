package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/bsfpga/pkg/fixed"
	"github.com/luxfi/bsfpga/pkg/fpga"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, fixed.Q16_16, cfg.Format())
	assert.Equal(t, 1, cfg.Devices)
	assert.True(t, cfg.Cache)
	assert.Empty(t, cfg.CacheDir)
	assert.Empty(t, cfg.NATSURL)

	mc, err := cfg.ManagerConfig()
	require.NoError(t, err)
	want := fpga.DefaultPipelineConfig()
	want.TickLimit = 10000
	assert.Equal(t, want, mc.Pipeline)
	assert.Equal(t, 1, mc.Devices)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BSFPGA_WIDTH", "24")
	t.Setenv("BSFPGA_FRAC", "12")
	t.Setenv("BSFPGA_CDF_STRATEGY", "table")
	t.Setenv("BSFPGA_JOINT_MODE", "serial")
	t.Setenv("BSFPGA_DEVICES", "4")
	t.Setenv("BSFPGA_CACHE", "false")
	t.Setenv("BSFPGA_CACHE_DIR", "/var/lib/bsfpga")
	t.Setenv("BSFPGA_NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	pc, err := cfg.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, fixed.Format{Width: 24, Frac: 12}, pc.Format)
	assert.Equal(t, fpga.CDFTable, pc.Strategy)
	assert.Equal(t, fpga.JointSerial, pc.Joint)
	assert.Equal(t, 4, cfg.Devices)
	assert.False(t, cfg.Cache)
	assert.Equal(t, "/var/lib/bsfpga", cfg.CacheDir)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
}

func TestLoadBadValue(t *testing.T) {
	t.Setenv("BSFPGA_DEVICES", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		errIs  error
	}{
		{"wide word", func(c *Config) { c.Width = 40 }, fixed.ErrFormat},
		{"no integer bits", func(c *Config) { c.Frac = 31 }, fixed.ErrFormat},
		{"strategy", func(c *Config) { c.Strategy = "cubic" }, nil},
		{"joint", func(c *Config) { c.Joint = "both" }, nil},
		{"devices", func(c *Config) { c.Devices = 0 }, nil},
		{"tick limit", func(c *Config) { c.TickLimit = 0 }, nil},
		{"port", func(c *Config) { c.RPCPort = 70000 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestPipelineConfigRejectsUnknownStrategy(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Strategy = "cubic"
	_, err = cfg.ManagerConfig()
	assert.Error(t, err)
}
