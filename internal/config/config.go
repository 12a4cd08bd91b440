// Package config loads service settings from an optional YAML file and
// KMP_-prefixed environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"kmp.org/internal/activities"
)

type ctxKey string

const configContextKey ctxKey = "kmp.config"

const envPrefix = "kmp"

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	HTTPAddr    string  `yaml:"httpAddr"    envconfig:"HTTP_ADDR"`
	GRPCAddr    string  `yaml:"grpcAddr"    envconfig:"GRPC_ADDR"`
	Store       string  `yaml:"store"`
	DatabaseURL string  `yaml:"databaseUrl" envconfig:"DATABASE_URL"`
	SQLitePath  string  `yaml:"sqlitePath"  envconfig:"SQLITE_PATH"`
	AuthSecret  string  `yaml:"authSecret"  envconfig:"AUTH_SECRET"`
	TokenIssuer string  `yaml:"tokenIssuer" envconfig:"TOKEN_ISSUER"`
	LogLevel    string  `yaml:"logLevel"    envconfig:"LOG_LEVEL"`
	RateLimit   float64 `yaml:"rateLimit"   envconfig:"RATE_LIMIT"`
	RateBurst   int     `yaml:"rateBurst"   envconfig:"RATE_BURST"`
	MaxBodySize int64   `yaml:"maxBodySize" envconfig:"MAX_BODY_SIZE"`
	// ShutdownTimeout is parsed with time.ParseDuration.
	ShutdownTimeout string `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`

	Workflow activities.Config `yaml:"workflow"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		Store:           StoreMemory,
		SQLitePath:      "kmp.sqlite",
		TokenIssuer:     "kmp",
		LogLevel:        "info",
		RateLimit:       20,
		RateBurst:       40,
		MaxBodySize:     1 << 20,
		ShutdownTimeout: "15s",
		Workflow:        activities.DefaultConfig(),
	}
}

// Load reads configFile, if given, over the defaults and then applies the
// environment.
func Load(configFile string) (*Config, error) {
	cfg := Default()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("databaseUrl is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if c.Workflow.ExpireBackdate < 0 || c.Workflow.RoleEndBackdate < 0 || c.Workflow.TokenBytes < 0 {
		return errors.New("workflow values must not be negative")
	}
	return nil
}
