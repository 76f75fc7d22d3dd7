package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Job store backends.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

type StoreConfig struct {
	Type string `yaml:"type" env:"REPLAY_STORE_TYPE"`
	Bolt struct {
		Path string `yaml:"path" env:"REPLAY_STORE_PATH"`
	} `yaml:"bolt"`
}

// JournalConfig enables the CSV journal of job updates when OutputDir is set.
type JournalConfig struct {
	OutputDir string `yaml:"output_dir" env:"REPLAY_JOURNAL_DIR"`
}

type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"REPLAY_LISTEN_ADDR"`
	// ReplayConfigPath is the JSON slice catalog. Relative paths are resolved
	// against the directory of the config file.
	ReplayConfigPath string        `yaml:"replay_config_path" env:"REPLAY_CONFIG_PATH"`
	Store            StoreConfig   `yaml:"store"`
	Journal          JournalConfig `yaml:"journal"`
	Retry            RetryConfig   `yaml:"retry"`
	LogLevel         string        `yaml:"log_level" env:"REPLAY_LOG_LEVEL"`
}

// Load reads the YAML file at path, applies REPLAY_* environment overrides,
// validates the result and fills in defaults.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfgDir := filepath.Dir(absPath)
	if !filepath.IsAbs(cfg.ReplayConfigPath) {
		cfg.ReplayConfigPath = filepath.Join(cfgDir, cfg.ReplayConfigPath)
	}
	if cfg.Store.Type == StoreBolt && !filepath.IsAbs(cfg.Store.Bolt.Path) {
		cfg.Store.Bolt.Path = filepath.Join(cfgDir, cfg.Store.Bolt.Path)
	}
	if cfg.Journal.OutputDir != "" && !filepath.IsAbs(cfg.Journal.OutputDir) {
		cfg.Journal.OutputDir = filepath.Join(cfgDir, cfg.Journal.OutputDir)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ReplayConfigPath == "" {
		return fmt.Errorf("replay_config_path is required")
	}

	switch c.Store.Type {
	case "", StoreMemory:
	case StoreBolt:
		if c.Store.Bolt.Path == "" {
			return fmt.Errorf("store.bolt.path is required when store type is bolt")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":4000"
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.DelayMS == 0 {
		c.Retry.DelayMS = 250
	}
}

// Level returns the configured logrus level.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
