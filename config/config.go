// Package config loads the service configuration from YAML or JSON files
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/easycab/dispatch/core/metrics"
	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/infra/mqtt"
	"github.com/easycab/dispatch/infra/replica"
)

// Role selects whether this instance serves riders or mirrors a primary.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// GatewayConfig defines the rider request endpoint.
type GatewayConfig struct {
	Port int `json:"port"`
}

// MatchConfig bounds the taxi search for one rider request.
type MatchConfig struct {
	DeadlineS int `json:"deadline_s"`
	RecheckMS int `json:"recheck_ms"`
}

// Config is the root configuration document.
type Config struct {
	Role     Role           `json:"role"`
	Grid     model.Grid     `json:"grid"`
	MQTT     mqtt.Config    `json:"mqtt"`
	Gateway  GatewayConfig  `json:"gateway"`
	Match    MatchConfig    `json:"match"`
	Snapshot replica.Config `json:"snapshot"`
	Metrics  metrics.Config `json:"metrics"`
}

// Load reads the configuration file at path. Environment variables with
// the EC_ prefix override file values, with __ separating nesting levels
// (EC_GATEWAY__PORT overrides gateway.port).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("EC_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "ec_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies sane defaults to every section.
func (c *Config) SetDefaults() {
	if c.Role == "" {
		c.Role = RolePrimary
	}
	if c.Grid.N <= 0 {
		c.Grid.N = 50
	}
	if c.Grid.M <= 0 {
		c.Grid.M = 50
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 5555
	}
	if c.Match.DeadlineS <= 0 {
		c.Match.DeadlineS = 60
	}
	if c.Match.RecheckMS <= 0 {
		c.Match.RecheckMS = 1000
	}
	c.MQTT.SetDefaults()
	c.Snapshot.SetDefaults()
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Role != RolePrimary && c.Role != RoleReplica {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if c.Role == RolePrimary && c.Gateway.Port <= 0 {
		return fmt.Errorf("gateway port is required for the primary role")
	}
	return nil
}
