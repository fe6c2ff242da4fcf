// Package config loads runtime configuration for the relay binaries from
// environment variables.
//
// Store selection is the one setting with a deployment precondition: the
// "memory" backend keeps task records inside a single process, so callbacks
// and polls only meet if every request is served by that same process. Any
// deployment that can scale past one instance (Lambda, multiple containers)
// must use "redis" or "dynamodb".
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreDynamo = "dynamodb"
)

// Config holds all relay configuration.
type Config struct {
	Store         string        `env:"BLESSING_STORE" envDefault:"memory"`
	TaskTTL       time.Duration `env:"BLESSING_TASK_TTL" envDefault:"1h"`
	SweepInterval time.Duration `env:"BLESSING_SWEEP_INTERVAL" envDefault:"5m"`

	RedisURL    string `env:"BLESSING_REDIS_URL"`
	RedisPrefix string `env:"BLESSING_REDIS_PREFIX" envDefault:"task:"`

	DynamoTable string `env:"BLESSING_DYNAMO_TABLE"`

	// PublicBaseURL is the externally reachable origin used to build the
	// provider callback URL. Empty means a local, non-networked deployment.
	PublicBaseURL  string `env:"BLESSING_PUBLIC_BASE_URL"`
	CallbackSecret string `env:"BLESSING_CALLBACK_SECRET"`
	// CallbackSecretParam names an SSM parameter holding the callback
	// secret. Only read when CallbackSecret is empty.
	CallbackSecretParam string `env:"SSM_CALLBACK_SECRET_PARAM"`
	OriginVerifySecret  string `env:"BLESSING_ORIGIN_VERIFY_SECRET"`

	AssetTimeout  time.Duration `env:"BLESSING_ASSET_TIMEOUT" envDefault:"30s"`
	AssetMaxBytes int64         `env:"BLESSING_ASSET_MAX_BYTES" envDefault:"20971520"`
	// S3Assets enables s3:// result locators. Requires AWS credentials.
	S3Assets bool `env:"BLESSING_S3_ASSETS"`

	// CORSOrigins are browser origins allowed in addition to localhost.
	CORSOrigins []string `env:"BLESSING_CORS_ORIGINS" envSeparator:","`

	NanoBananaAPIKey   string `env:"NANOBANANA_API_KEY"`
	NanoBananaBaseURL  string `env:"NANOBANANA_BASE_URL" envDefault:"https://api.nanobananaapi.ai"`
	NanoBananaKeyParam string `env:"SSM_NANOBANANA_KEY_PARAM" envDefault:"/blessing/prod/nanobanana-api-key"`
}

// Load parses Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend-specific requirements.
func (c *Config) Validate() error {
	if c.TaskTTL <= 0 {
		return errors.New("BLESSING_TASK_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("BLESSING_SWEEP_INTERVAL must be positive")
	}
	if c.AssetMaxBytes <= 0 {
		return errors.New("BLESSING_ASSET_MAX_BYTES must be positive")
	}
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("BLESSING_REDIS_URL is required when BLESSING_STORE=redis")
		}
	case StoreDynamo:
		if c.DynamoTable == "" {
			return errors.New("BLESSING_DYNAMO_TABLE is required when BLESSING_STORE=dynamodb")
		}
	default:
		return fmt.Errorf("unknown BLESSING_STORE %q (want memory, redis or dynamodb)", c.Store)
	}
	return nil
}

// Networked reports whether the provider can reach this deployment, i.e.
// whether asynchronous callbacks are possible at all.
func (c *Config) Networked() bool {
	return c.PublicBaseURL != ""
}
