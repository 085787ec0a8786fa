// Package config loads bsfpga settings from the environment
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/luxfi/log"

	"github.com/luxfi/bsfpga/pkg/fixed"
	"github.com/luxfi/bsfpga/pkg/fpga"
)

// Config is the process configuration. Every field can be set with a
// BSFPGA_ environment variable; cmd/bsfpga flags override them.
type Config struct {
	// Fixed-point word
	Width uint `env:"WIDTH" envDefault:"32"`
	Frac  uint `env:"FRAC" envDefault:"16"`

	// Engine selection
	Strategy  string `env:"CDF_STRATEGY" envDefault:"rational"`
	Joint     string `env:"JOINT_MODE" envDefault:"parallel"`
	Devices   int    `env:"DEVICES" envDefault:"1"`
	TickLimit int    `env:"TICK_LIMIT" envDefault:"10000"`

	// Result cache; an empty CacheDir keeps it in memory
	Cache    bool   `env:"CACHE" envDefault:"true"`
	CacheDir string `env:"CACHE_DIR"`

	// Front ends; a zero port disables the listener
	RPCPort     int    `env:"RPC_PORT" envDefault:"8080"`
	WSPort      int    `env:"WS_PORT" envDefault:"8081"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"bsfpga.rpc"`
	NATSWorkers int    `env:"NATS_WORKERS" envDefault:"4"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "BSFPGA_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Format returns the configured fixed-point word
func (c Config) Format() fixed.Format {
	return fixed.Format{Width: c.Width, Frac: c.Frac}
}

// Validate reports every invalid field
func (c Config) Validate() error {
	var errs []error
	if err := c.Format().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := fpga.ParseCDFStrategy(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := fpga.ParseJointMode(c.Joint); err != nil {
		errs = append(errs, err)
	}
	if c.Devices < 1 {
		errs = append(errs, fmt.Errorf("devices must be positive, got %d", c.Devices))
	}
	if c.TickLimit < 1 {
		errs = append(errs, fmt.Errorf("tick limit must be positive, got %d", c.TickLimit))
	}
	for name, port := range map[string]int{"rpc": c.RPCPort, "ws": c.WSPort, "metrics": c.MetricsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s port %d out of range", name, port))
		}
	}
	if _, err := log.ToLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// PipelineConfig converts to the engine configuration. Call Validate first.
func (c Config) PipelineConfig() (fpga.PipelineConfig, error) {
	strategy, err := fpga.ParseCDFStrategy(c.Strategy)
	if err != nil {
		return fpga.PipelineConfig{}, err
	}
	joint, err := fpga.ParseJointMode(c.Joint)
	if err != nil {
		return fpga.PipelineConfig{}, err
	}
	return fpga.PipelineConfig{
		Format:    c.Format(),
		Strategy:  strategy,
		Joint:     joint,
		TickLimit: c.TickLimit,
	}, nil
}

// ManagerConfig converts to the device pool configuration
func (c Config) ManagerConfig() (fpga.ManagerConfig, error) {
	p, err := c.PipelineConfig()
	if err != nil {
		return fpga.ManagerConfig{}, err
	}
	return fpga.ManagerConfig{Pipeline: p, Devices: c.Devices}, nil
}
