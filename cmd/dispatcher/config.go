package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"chainjudge/internal/api"
	"chainjudge/internal/common/cache"
	"chainjudge/internal/common/db"
	"chainjudge/internal/common/mq"
	"chainjudge/internal/common/storage"
	"chainjudge/internal/dispatch"
	"chainjudge/internal/judge"
	"chainjudge/internal/packcache"
	"chainjudge/internal/sandbox/engine"
	"chainjudge/pkg/utils/logger"
)

// SandboxConfig groups box pool and isolation engine settings.
type SandboxConfig struct {
	BoxRoot string        `yaml:"boxRoot"`
	Boxes   int           `yaml:"boxes"`
	Engine  engine.Config `yaml:"engine"`
}

// ChainConfig groups ledger settings.
type ChainConfig struct {
	EpochMs          int64 `yaml:"epochMs"`
	AnchorBaseHeight int64 `yaml:"anchorBaseHeight"`
}

// ScoringConfig groups decay scoring settings.
type ScoringConfig struct {
	Alpha   float64 `yaml:"alpha"`
	Minimum float64 `yaml:"minimum"`
}

// Config is the dispatcher's full configuration.
type Config struct {
	Logger   logger.Config       `yaml:"logger"`
	MySQL    db.MySQLConfig      `yaml:"mysql"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Packs    packcache.Config    `yaml:"packs"`
	Sandbox  SandboxConfig       `yaml:"sandbox"`
	Judge    judge.Config        `yaml:"judge"`
	Dispatch dispatch.Config     `yaml:"dispatch"`
	Chain    ChainConfig         `yaml:"chain"`
	Scoring  ScoringConfig       `yaml:"scoring"`
	API      api.Config          `yaml:"api"`
}

// LoadConfig reads the YAML config file, applies environment overrides,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies the operational environment contract. Environment
// values win over the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("WORKERS must be a positive integer, got %q", v)
		}
		c.Dispatch.Workers = n
	}
	if v := os.Getenv("EPOCH_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("EPOCH_MS must be a positive integer, got %q", v)
		}
		c.Chain.EpochMs = n
	}
	if v := os.Getenv("SANDBOX_BOXES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("SANDBOX_BOXES must be a positive integer, got %q", v)
		}
		c.Sandbox.Boxes = n
	}
	if v := os.Getenv("POINTS_ALPHA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("POINTS_ALPHA must be a positive number, got %q", v)
		}
		c.Scoring.Alpha = f
	}
	if v := os.Getenv("POINTS_MIN"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("POINTS_MIN must be a non-negative number, got %q", v)
		}
		c.Scoring.Minimum = f
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = runtime.NumCPU()
	}
	if c.Chain.EpochMs <= 0 {
		c.Chain.EpochMs = 600000
	}
	if c.Sandbox.Boxes <= 0 {
		c.Sandbox.Boxes = c.Dispatch.Workers
	}
	if c.Sandbox.BoxRoot == "" {
		c.Sandbox.BoxRoot = "/var/lib/chainjudge/boxes"
	}
	if c.Scoring.Alpha <= 0 {
		c.Scoring.Alpha = 10
	}
	if c.Scoring.Minimum <= 0 {
		c.Scoring.Minimum = 1
	}
	if c.Dispatch.NodeID == "" {
		host, err := os.Hostname()
		if err == nil {
			c.Dispatch.NodeID = host
		} else {
			c.Dispatch.NodeID = "dispatcher"
		}
	}
}

func (c *Config) validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Sandbox.Boxes < c.Dispatch.Workers {
		return fmt.Errorf("sandbox boxes (%d) must be at least the worker count (%d)",
			c.Sandbox.Boxes, c.Dispatch.Workers)
	}
	return nil
}

// Epoch returns the mining epoch as a duration.
func (c *Config) Epoch() time.Duration {
	return time.Duration(c.Chain.EpochMs) * time.Millisecond
}
