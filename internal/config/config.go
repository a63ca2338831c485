// Package config loads worker and CLI settings from an optional YAML file
// and UTNODE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable, e.g. UTNODE_NATS_URL.
const EnvPrefix = "UTNODE"

// DefaultFileName is looked up in the working directory when no file is given.
const DefaultFileName = "uploadthing-node"

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	Consumer      string `mapstructure:"consumer"`
	ResultStream  string `mapstructure:"result_stream"`
	ResultSubject string `mapstructure:"result_subject"`
	MaxDeliver    int    `mapstructure:"max_deliver"`
}

type RunnerConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// Workers is sized from the CPU quota when 0
	Workers        int           `mapstructure:"workers"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

type UploadThingConfig struct {
	// Token is used when a request carries no uploadThingApi credential
	Token   string        `mapstructure:"token"`
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxConcurrent bounds API calls in flight across all workers
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	BreakerThreshold int64         `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
}

type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Environment string  `mapstructure:"environment"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the complete uploadthing-node configuration.
type Config struct {
	NATS        NATSConfig        `mapstructure:"nats"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	UploadThing UploadThingConfig `mapstructure:"uploadthing"`
	Azure       AzureConfig       `mapstructure:"azure"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Log         LogConfig         `mapstructure:"log"`
}

// SetDefaults registers every key with its default so environment variables
// bind even when no file is present.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "EXECUTIONS")
	v.SetDefault("nats.consumer", "uploadthing-node")
	v.SetDefault("nats.result_stream", "RESULTS")
	v.SetDefault("nats.result_subject", "result")
	v.SetDefault("nats.max_deliver", 5)

	v.SetDefault("runner.batch_size", 10)
	v.SetDefault("runner.workers", 0)
	v.SetDefault("runner.process_timeout", 5*time.Minute)

	v.SetDefault("uploadthing.token", "")
	v.SetDefault("uploadthing.api_url", "https://api.uploadthing.com")
	v.SetDefault("uploadthing.timeout", 60*time.Second)
	v.SetDefault("uploadthing.max_concurrent", 16)
	v.SetDefault("uploadthing.breaker_threshold", 10)
	v.SetDefault("uploadthing.breaker_reset", 30*time.Second)

	v.SetDefault("azure.connection_string", "")
	v.SetDefault("azure.container", "uploadthing-node")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "127.0.0.1:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, or uploadthing-node.yaml from the working directory when
// file is empty, and unmarshals the result. A missing default file is not
// an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if c.Runner.BatchSize <= 0 {
		return fmt.Errorf("runner.batch_size must be greater than 0")
	}
	if c.Runner.Workers < 0 {
		return fmt.Errorf("runner.workers must not be negative")
	}
	if c.Runner.ProcessTimeout <= 0 {
		return fmt.Errorf("runner.process_timeout must be greater than 0")
	}
	if c.UploadThing.Timeout <= 0 {
		return fmt.Errorf("uploadthing.timeout must be greater than 0")
	}
	if c.UploadThing.MaxConcurrent < 0 {
		return fmt.Errorf("uploadthing.max_concurrent must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// BlobStorageEnabled reports whether Azure Blob Storage is configured.
func (c *Config) BlobStorageEnabled() bool {
	return c.Azure.ConnectionString != ""
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
