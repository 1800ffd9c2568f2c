// Package config loads the server configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Economy  EconomyConfig  `yaml:"economy"`
	Cycle    CycleConfig    `yaml:"cycle"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	// DSN empty means the in-memory store.
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	// Addr empty disables the price snapshot cache.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PubSubConfig struct {
	// ProjectID empty keeps events on the in-process bus only.
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type SandboxConfig struct {
	Image         string `yaml:"image"`
	WorkspaceRoot string `yaml:"workspace_root"`
	TotalMemoryMB int64  `yaml:"total_memory_mb"`
	// Stub replaces Docker with a no-op sandbox (demo and CI).
	Stub bool `yaml:"stub"`
}

type EconomyConfig struct {
	SpawnCost      float64 `yaml:"spawn_cost"`
	GenesisCredits float64 `yaml:"genesis_credits"`
	MinPrice       float64 `yaml:"min_price"`
	MaxPrice       float64 `yaml:"max_price"`
	// AttentionRates empty means the built-in {interesting,useful,
	// understandable: 50} conversion table.
	AttentionRates map[string]float64 `yaml:"attention_rates"`
	// Resources overrides seed supply/price per resource kind (cpu,
	// memory, tokens, attention); omitted kinds keep their defaults.
	Resources map[string]ResourceConfig `yaml:"resources"`
}

type ResourceConfig struct {
	Supply float64 `yaml:"supply"`
	Price  float64 `yaml:"price"`
}

type CycleConfig struct {
	// Interval is parsed from the YAML string (e.g. "30s", "5m").
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`
	Fanout      int           `yaml:"fanout"`
	// Interactive routes attention scoring to the console operator.
	Interactive bool `yaml:"interactive"`
}

// Default is the configuration used when no file is given. Every value can
// be overridden by the YAML file or the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		PubSub: PubSubConfig{TopicID: "syntropism-events"},
		Sandbox: SandboxConfig{
			Image:         "syntropism/agent:latest",
			WorkspaceRoot: "./workspaces",
			TotalMemoryMB: 2048,
		},
		Economy: EconomyConfig{
			SpawnCost:      10,
			GenesisCredits: 1000,
			MinPrice:       0.01,
			MaxPrice:       1000,
		},
		Cycle: CycleConfig{Interval: 30 * time.Second, Fanout: 1},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Cycle.IntervalRaw != "" {
		d, err := time.ParseDuration(cfg.Cycle.IntervalRaw)
		if err != nil {
			return nil, fmt.Errorf("cycle.interval: %w", err)
		}
		cfg.Cycle.Interval = d
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.PubSub.ProjectID, "PUBSUB_PROJECT_ID")
	setString(&c.PubSub.TopicID, "PUBSUB_TOPIC_ID")
	setString(&c.Sandbox.Image, "SANDBOX_IMAGE")
	setString(&c.Sandbox.WorkspaceRoot, "WORKSPACE_ROOT")
	if os.Getenv("SANDBOX_STUB") == "true" {
		c.Sandbox.Stub = true
	}
	if os.Getenv("INTERACTIVE") == "true" {
		c.Cycle.Interactive = true
	}
	if v := os.Getenv("CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cycle.Interval = d
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
