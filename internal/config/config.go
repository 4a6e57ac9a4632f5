package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models updock.yml.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Server   struct {
		Listen    string `yaml:"listen"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Endpoints []Endpoint `yaml:"endpoints"`
	Versions  struct {
		// Registry is the base URL of the version source (a Docker
		// registry v2 API or compatible). Empty disables remote lookups.
		Registry string `yaml:"registry"`
		// LookupsPerSecond throttles version-source calls per registry host.
		LookupsPerSecond float64 `yaml:"lookups_per_second"`
		LookupBurst      int     `yaml:"lookup_burst"`
	} `yaml:"versions"`
	Upgrades struct {
		// Timeout bounds a single upgrade action. A timed-out upgrade is
		// recorded as failed, never left unrecorded.
		Timeout Duration `yaml:"timeout"`
	} `yaml:"upgrades"`
}

// Duration wraps time.Duration so "5m"-style strings parse from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Endpoint is one remote container-management endpoint to pull inventory from.
type Endpoint struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Host    string `yaml:"host"` // e.g. unix:///var/run/docker.sock, tcp://host:2376
	Enabled bool   `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, ep := range c.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("endpoints[%d].id is required", i)
		}
		if ep.Name == "" {
			return fmt.Errorf("endpoint %s: name is required", ep.ID)
		}
		if ep.Host == "" {
			return fmt.Errorf("endpoint %s: host is required", ep.ID)
		}
		if seen[ep.ID] {
			return fmt.Errorf("duplicate endpoint id %s", ep.ID)
		}
		seen[ep.ID] = true
	}
	if c.Versions.LookupsPerSecond < 0 {
		return fmt.Errorf("versions.lookups_per_second must not be negative")
	}
	if c.Upgrades.Timeout < 0 {
		return fmt.Errorf("upgrades.timeout must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "updock.yml")
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with updock config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns a Config with usable defaults and no endpoints.
func Default() *Config {
	var cfg Config
	cfg.LogLevel = "info"
	cfg.Server.Listen = "127.0.0.1:8480"
	cfg.Versions.LookupsPerSecond = 2
	cfg.Versions.LookupBurst = 5
	cfg.Upgrades.Timeout = Duration(5 * time.Minute)
	return &cfg
}

// GenerateDefault returns default config YAML for updock config init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `log_level: info

server:
  listen: 127.0.0.1:8480
  base_path: ""
  # jwt_secret: set to require bearer tokens on the API

endpoints:
  - id: local
    name: local
    host: unix:///var/run/docker.sock
    enabled: true

versions:
  registry: https://registry.hub.docker.com
  lookups_per_second: 2
  lookup_burst: 5

upgrades:
  timeout: 5m
`
