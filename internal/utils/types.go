package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig is the YAML configuration consumed by the serve command.
// Everything has a flag counterpart; the file is a convenience for
// long-lived deployments.
type GatewayConfig struct {
	Listen            string        `yaml:"listen"`
	Origin            string        `yaml:"origin"`
	Version           string        `yaml:"version"`
	CachePath         string        `yaml:"cachePath"`
	Concurrency       int           `yaml:"concurrency"`
	TriggerExtensions []string      `yaml:"triggerExtensions"`
	BlockMarker       string        `yaml:"blockMarker"`
	RedirectURL       string        `yaml:"redirectUrl"`
	DNSDomains        []string      `yaml:"dnsDomains"`
	ResolverURL       string        `yaml:"resolverUrl"`
	Timeout           time.Duration `yaml:"timeout"`
}

func ReadGatewayConfig(configFile string) (*GatewayConfig, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if cfg.Origin == "" {
		return nil, fmt.Errorf("config is missing origin")
	}
	return &cfg, nil
}
