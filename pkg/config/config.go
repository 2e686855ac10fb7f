// Package config loads the module's YAML configuration file and exposes
// the two keys spec.md §6 names: each module's flow-table id, and the LB
// `instances` grammar string. The grammar itself is never expressed as
// YAML structure; it stays a single string parsed by
// pkg/loadbalancer.ParseInstances, since the grammar is part of the
// protocol under test (P3, S3, S4).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
)

// SPSConfig holds the Shortest-Path Switching module's configuration.
type SPSConfig struct {
	Table uint8 `yaml:"table"`
}

// LoadBalancerConfig holds the LB module's configuration.
type LoadBalancerConfig struct {
	Table     uint8  `yaml:"table"`
	Instances string `yaml:"instances"`
}

// Config is the top-level document loaded from disk.
type Config struct {
	SPS          SPSConfig          `yaml:"sps"`
	LoadBalancer LoadBalancerConfig `yaml:"loadbalancer"`
}

// rawConfig mirrors Config but keeps the table ids as pointers, so Load can
// tell an absent `table` key apart from an explicit `table: 0` (0 is a
// legitimate flow-table id, not a sentinel for "unset").
type rawConfig struct {
	SPS struct {
		Table *uint8 `yaml:"table"`
	} `yaml:"sps"`
	LoadBalancer struct {
		Table     *uint8 `yaml:"table"`
		Instances string `yaml:"instances"`
	} `yaml:"loadbalancer"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var rc rawConfig
	if err := yaml.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ofcore.ErrConfigInvalid, path, err)
	}
	if rc.SPS.Table == nil {
		return nil, fmt.Errorf("%w: sps.table is required", ofcore.ErrConfigInvalid)
	}
	if rc.LoadBalancer.Table == nil {
		return nil, fmt.Errorf("%w: loadbalancer.table is required", ofcore.ErrConfigInvalid)
	}

	cfg := &Config{
		SPS:          SPSConfig{Table: *rc.SPS.Table},
		LoadBalancer: LoadBalancerConfig{Table: *rc.LoadBalancer.Table, Instances: rc.LoadBalancer.Instances},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces spec.md §6's only fatal startup condition: the two
// table ids must differ. Presence of each key is Load's job (it decodes
// through rawConfig's pointers); a Config built directly, as the tests and
// Controller.New do, is assumed already fully populated.
func (c *Config) Validate() error {
	if c.SPS.Table == c.LoadBalancer.Table {
		return fmt.Errorf("%w: sps.table and loadbalancer.table must differ, both are %d", ofcore.ErrConfigInvalid, c.SPS.Table)
	}
	return nil
}
