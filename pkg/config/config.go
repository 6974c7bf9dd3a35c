// Package config loads the node configuration and the genesis market from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/luxfi/log"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// Config is the full perpd configuration.
type Config struct {
	Node   Node   `yaml:"node"`
	Market Market `yaml:"market"`
}

// Node configures the daemon.
type Node struct {
	DataDir          string  `yaml:"data_dir"`
	InMemory         bool    `yaml:"in_memory"`
	Namespace        string  `yaml:"namespace"`
	HTTPAddr         string  `yaml:"http_addr"`
	LogLevel         string  `yaml:"log_level"`
	BlockInterval    string  `yaml:"block_interval"`
	OracleMaxAge     uint64  `yaml:"oracle_max_age"`
	NATSURL          string  `yaml:"nats_url,omitempty"`
	NATSSubject      string  `yaml:"nats_subject"`
	RateLimit        float64 `yaml:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst"`
	MetricsNamespace string  `yaml:"metrics_namespace"`
	AdminAPI         bool    `yaml:"admin_api"`
	VaultAccount     string  `yaml:"vault_account"`
}

// Interval returns the parsed block interval.
func (n Node) Interval() time.Duration {
	d, _ := time.ParseDuration(n.BlockInterval)
	return d
}

// Default returns a single-node development configuration.
func Default() *Config {
	return &Config{
		Node: Node{
			DataDir:          "~/.perpd",
			Namespace:        "perps",
			HTTPAddr:         ":8080",
			LogLevel:         "info",
			BlockInterval:    "1s",
			OracleMaxAge:     0,
			NATSSubject:      "perps.events",
			RateLimit:        100,
			RateBurst:        200,
			MetricsNamespace: "perps",
			AdminAPI:         true,
			VaultAccount:     "lux1vault",
		},
		Market: DefaultMarket(),
	}
}

// Load reads path over the defaults. Environment variables in the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the node settings and the market.
func (c *Config) Validate() error {
	n := c.Node
	if n.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is required", ErrInvalid)
	}
	if _, err := log.ToLevel(n.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, n.LogLevel)
	}
	if d, err := time.ParseDuration(n.BlockInterval); err != nil || d <= 0 {
		return fmt.Errorf("%w: block_interval %q", ErrInvalid, n.BlockInterval)
	}
	if n.RateLimit <= 0 || n.RateBurst <= 0 {
		return fmt.Errorf("%w: rate_limit and rate_burst must be positive", ErrInvalid)
	}
	if n.VaultAccount == "" {
		return fmt.Errorf("%w: vault_account is required", ErrInvalid)
	}
	if !n.InMemory && n.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required unless in_memory", ErrInvalid)
	}
	return c.Market.Validate()
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
