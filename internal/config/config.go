package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds service configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds postgres settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN        string `mapstructure:"dsn"`
	Migrations bool   `mapstructure:"migrations"`
}

// KafkaConfig holds event publishing settings. No brokers disables
// publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// LedgerConfig bounds reconciliation I/O.
type LedgerConfig struct {
	PageSize      int           `mapstructure:"page_size"`
	MaxPages      int           `mapstructure:"max_pages"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

type SweeperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Timezone string        `mapstructure:"timezone"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Location resolves the sweeper timezone used to decide what "today" is.
func (c SweeperConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrations", true)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("ledger.page_size", 100)
	v.SetDefault("ledger.max_pages", 1000)
	v.SetDefault("ledger.fetch_timeout", "10s")
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_backoff", "200ms")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "24h")
	v.SetDefault("sweeper.timezone", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration from file and env. Env var overrides use prefix LEDGER_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "ledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Ledger.PageSize <= 0 {
		return fmt.Errorf("ledger.page_size must be positive, got %d", c.Ledger.PageSize)
	}
	if c.Ledger.MaxPages <= 0 {
		return fmt.Errorf("ledger.max_pages must be positive, got %d", c.Ledger.MaxPages)
	}
	if c.Ledger.RetryAttempts < 1 {
		return fmt.Errorf("ledger.retry_attempts must be at least 1, got %d", c.Ledger.RetryAttempts)
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive, got %s", c.Sweeper.Interval)
	}
	return nil
}
