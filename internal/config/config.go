package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // empty disables the bearer check (dev)
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // status cache expiry
}

type StorageConfig struct {
	Root string `yaml:"root"` // content-addressable store root directory
}

type AIConfig struct {
	BaseURL    string `yaml:"base_url"` // OpenAI-compatible endpoint (Ollama, OpenAI, ...)
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

type PipelineConfig struct {
	// StageBudgets maps stage class -> worker count. OCR is CPU-bound,
	// embedding reflects the remote model-serving limit.
	StageBudgets map[string]int `yaml:"stage_budgets"`
	StageTimeout time.Duration  `yaml:"stage_timeout"`
	MaxAttempts  int            `yaml:"max_attempts"`
	RetryBase    time.Duration  `yaml:"retry_base"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	// BatchPolicy is "fail_fast" (default) or "continue".
	BatchPolicy string `yaml:"batch_policy"`
}

// BatchFailFast reports whether a batch fails as soon as one member fails.
func (p PipelineConfig) BatchFailFast() bool { return p.BatchPolicy != "continue" }

type WebhookConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBase    time.Duration `yaml:"retry_base"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RetentionConfig struct {
	TTL      time.Duration `yaml:"ttl"`      // how long terminal jobs are kept
	Interval time.Duration `yaml:"interval"` // cleanup cadence
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Retention RetentionConfig `yaml:"retention"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Storage.Root == "" {
		return nil, errors.New("storage.root is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "llama3.1:8b"
	}
	if cfg.AI.EmbedModel == "" {
		cfg.AI.EmbedModel = "nomic-embed-text"
	}
	if cfg.Pipeline.StageBudgets == nil {
		cfg.Pipeline.StageBudgets = map[string]int{}
	}
	for class, def := range map[string]int{"ocr": 2, "nlp": 4, "embedding": 2} {
		if cfg.Pipeline.StageBudgets[class] <= 0 {
			cfg.Pipeline.StageBudgets[class] = def
		}
	}
	if cfg.Pipeline.StageTimeout <= 0 {
		cfg.Pipeline.StageTimeout = 2 * time.Minute
	}
	if cfg.Pipeline.MaxAttempts <= 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.RetryBase <= 0 {
		cfg.Pipeline.RetryBase = 2 * time.Second
	}
	if cfg.Pipeline.PollInterval <= 0 {
		cfg.Pipeline.PollInterval = 500 * time.Millisecond
	}
	if cfg.Pipeline.BatchPolicy == "" {
		cfg.Pipeline.BatchPolicy = "fail_fast"
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Webhook.RetryBase <= 0 {
		cfg.Webhook.RetryBase = time.Second
	}
	if cfg.Webhook.Timeout <= 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Webhook.PollInterval <= 0 {
		cfg.Webhook.PollInterval = time.Second
	}
	if cfg.Retention.TTL <= 0 {
		cfg.Retention.TTL = 24 * time.Hour
	}
	if cfg.Retention.Interval <= 0 {
		cfg.Retention.Interval = time.Hour
	}
}
