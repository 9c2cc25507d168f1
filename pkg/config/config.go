package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Model Configuration
	OpenAIKey     string  `yaml:"openai_key"`
	OpenAIBaseURL string  `yaml:"openai_base_url"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`

	// Checkpoint Storage
	Storage StorageConfig `yaml:"storage"`

	// Session Cache
	Session SessionConfig `yaml:"session"`

	// HTTP Server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and configures the checkpoint backend
type StorageConfig struct {
	// Backend is one of: memory, redis, dynamodb
	Backend string `yaml:"backend"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DynamoDBConfig holds DynamoDB backend settings
type DynamoDBConfig struct {
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisConfig holds Redis backend settings
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SessionConfig holds session cache settings
type SessionConfig struct {
	// TTLSeconds is the idle lifetime of a cached session. Zero or
	// negative disables eviction entirely; leaving it unset falls back
	// to one hour. A pointer keeps an explicit 0 distinguishable from
	// the field being omitted.
	TTLSeconds *int `yaml:"ttl_seconds"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr          string  `yaml:"addr"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
	EnableMetrics bool    `yaml:"enable_metrics"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration built from defaults and environment
// variables alone, for running without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

// applyEnv fills unset fields from the environment.
func (c *Config) applyEnv() {
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = os.Getenv("CHECKPOINT_BACKEND")
	}
	if c.Storage.DynamoDB.Table == "" {
		c.Storage.DynamoDB.Table = os.Getenv("DYNAMODB_TABLE")
	}
	if c.Storage.DynamoDB.Region == "" {
		c.Storage.DynamoDB.Region = os.Getenv("AWS_REGION")
	}
	if c.Storage.DynamoDB.Endpoint == "" {
		c.Storage.DynamoDB.Endpoint = os.Getenv("DYNAMODB_ENDPOINT_URL")
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if c.Session.TTLSeconds == nil {
		if v := os.Getenv("SESSION_MEMORY_TTL_SECONDS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Session.TTLSeconds = &n
			}
		}
	}
}

// applyDefaults fills remaining zero values.
func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.DynamoDB.Region == "" {
		c.Storage.DynamoDB.Region = "us-east-1"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "voyager:checkpoint:"
	}
	if c.Session.TTLSeconds == nil {
		ttl := 3600
		c.Session.TTLSeconds = &ttl
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// SessionTTL returns the cache TTL as a duration. Zero or negative
// means eviction is disabled.
func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLSeconds == nil {
		return time.Hour
	}
	return time.Duration(*c.Session.TTLSeconds) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "dynamodb":
		if c.Storage.DynamoDB.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.OpenAIKey == "" {
		return fmt.Errorf("an OpenAI API key must be configured")
	}
	return nil
}
