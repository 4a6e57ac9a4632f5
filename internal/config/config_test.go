package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
log_level: debug
server:
  listen: 0.0.0.0:9000
  base_path: /api
  jwt_secret: hunter2
endpoints:
  - id: local
    name: local
    host: unix:///var/run/docker.sock
    enabled: true
  - id: nas
    name: nas
    host: tcp://nas.lan:2376
    enabled: false
versions:
  registry: https://registry.hub.docker.com
  lookups_per_second: 1.5
  lookup_burst: 3
upgrades:
  timeout: 90s
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" || cfg.Server.BasePath != "/api" || cfg.Server.JWTSecret != "hunter2" {
		t.Errorf("server section %+v", cfg.Server)
	}
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[1].Host != "tcp://nas.lan:2376" || cfg.Endpoints[1].Enabled {
		t.Errorf("endpoints %+v", cfg.Endpoints)
	}
	if cfg.Versions.LookupsPerSecond != 1.5 || cfg.Versions.LookupBurst != 3 {
		t.Errorf("versions section %+v", cfg.Versions)
	}
	if cfg.Upgrades.Timeout.Std() != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Upgrades.Timeout.Std())
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("log_level: warn\n"))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Server.Listen != "127.0.0.1:8480" {
		t.Errorf("listen default = %q", cfg.Server.Listen)
	}
	if cfg.Upgrades.Timeout.Std() != 5*time.Minute {
		t.Errorf("timeout default = %v", cfg.Upgrades.Timeout.Std())
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing endpoint id",
			mutate:  func(c *Config) { c.Endpoints = []Endpoint{{Name: "local", Host: "unix:///x"}} },
			wantErr: "id is required",
		},
		{
			name:    "missing endpoint name",
			mutate:  func(c *Config) { c.Endpoints = []Endpoint{{ID: "a", Host: "unix:///x"}} },
			wantErr: "name is required",
		},
		{
			name:    "missing endpoint host",
			mutate:  func(c *Config) { c.Endpoints = []Endpoint{{ID: "a", Name: "a"}} },
			wantErr: "host is required",
		},
		{
			name: "duplicate endpoint id",
			mutate: func(c *Config) {
				c.Endpoints = []Endpoint{
					{ID: "a", Name: "one", Host: "unix:///x"},
					{ID: "a", Name: "two", Host: "unix:///y"},
				}
			},
			wantErr: "duplicate endpoint id",
		},
		{
			name:    "negative lookup rate",
			mutate:  func(c *Config) { c.Versions.LookupsPerSecond = -1 },
			wantErr: "lookups_per_second",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Upgrades.Timeout = Duration(-time.Second) },
			wantErr: "timeout",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestInvalidDuration(t *testing.T) {
	_, err := FromYAML([]byte("upgrades:\n  timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template should parse: %v", err)
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].ID != "local" {
		t.Errorf("template endpoints %+v", cfg.Endpoints)
	}
	if cfg.Versions.Registry == "" {
		t.Error("template should set a registry")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("LoadOptional on empty workspace: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config when file is absent")
	}

	if err := os.WriteFile(filepath.Join(dir, "updock.yml"), []byte("log_level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg == nil || cfg.LogLevel != "error" {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("Load on missing file: %v", err)
	}
}
