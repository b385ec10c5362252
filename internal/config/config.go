// Package config loads raffle service configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use strings like "90s"
// or "5m". Environment overrides accept the same syntax.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the full service configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr" env:"RAFFLE_HTTP_ADDR"`
	LogLevel    string `yaml:"log_level" env:"RAFFLE_LOG_LEVEL"`
	DatabaseURL string `yaml:"database_url" env:"RAFFLE_DATABASE_URL"`

	EntranceFee   int64    `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	RoundInterval Duration `yaml:"round_interval" env:"RAFFLE_ROUND_INTERVAL"`

	EntryRatePerSecond float64 `yaml:"entry_rate_per_second" env:"RAFFLE_ENTRY_RATE"`
	EntryRateBurst     int     `yaml:"entry_rate_burst" env:"RAFFLE_ENTRY_BURST"`

	Upkeep   Upkeep   `yaml:"upkeep"`
	Provider Provider `yaml:"provider"`
}

// Upkeep configures the draw readiness poller.
type Upkeep struct {
	Interval Duration `yaml:"interval" env:"RAFFLE_UPKEEP_INTERVAL"`
	// CronSpec, when set, replaces the fixed interval with a five-field
	// cron cadence.
	CronSpec string `yaml:"cron_spec" env:"RAFFLE_UPKEEP_CRON"`
}

// Provider configures the randomness provider. An empty endpoint selects the
// in-process provider.
type Provider struct {
	Endpoint         string   `yaml:"endpoint" env:"RAFFLE_PROVIDER_URL"`
	APIKey           string   `yaml:"api_key" env:"RAFFLE_PROVIDER_KEY"`
	KeyHash          string   `yaml:"key_hash" env:"RAFFLE_PROVIDER_KEY_HASH"`
	SubscriptionID   string   `yaml:"subscription_id" env:"RAFFLE_PROVIDER_SUBSCRIPTION"`
	Confirmations    int      `yaml:"confirmations" env:"RAFFLE_PROVIDER_CONFIRMATIONS"`
	CallbackGasLimit int64    `yaml:"callback_gas_limit" env:"RAFFLE_PROVIDER_GAS_LIMIT"`
	NativePayment    bool     `yaml:"native_payment" env:"RAFFLE_PROVIDER_NATIVE_PAYMENT"`
	PollInterval     Duration `yaml:"poll_interval" env:"RAFFLE_PROVIDER_POLL_INTERVAL"`
	LocalDelay       Duration `yaml:"local_delay" env:"RAFFLE_PROVIDER_LOCAL_DELAY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		EntranceFee:        100,
		RoundInterval:      Duration(time.Minute),
		EntryRatePerSecond: 25,
		EntryRateBurst:     50,
		Upkeep: Upkeep{
			Interval: Duration(15 * time.Second),
		},
		Provider: Provider{
			Confirmations:    3,
			CallbackGasLimit: 100_000,
			PollInterval:     Duration(5 * time.Second),
			LocalDelay:       Duration(250 * time.Millisecond),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// the path is non-empty), then environment variables, each layer overriding
// the previous one.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.EntranceFee <= 0 {
		return fmt.Errorf("entrance_fee must be positive")
	}
	if c.RoundInterval <= 0 {
		return fmt.Errorf("round_interval must be positive")
	}
	if c.Upkeep.Interval <= 0 {
		return fmt.Errorf("upkeep.interval must be positive")
	}
	if c.Provider.PollInterval <= 0 {
		return fmt.Errorf("provider.poll_interval must be positive")
	}
	return nil
}
