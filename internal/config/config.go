// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the ledger service settings. Empty DatabaseURL selects the
// in-memory stores; empty RedisURL selects the in-memory balance cache and
// in-process event delivery.
type Config struct {
	Port            string
	DatabaseURL     string
	RedisURL        string
	BalanceDeltaTTL time.Duration
	AccountCacheTTL time.Duration
	FlushInterval   time.Duration
	EventsStream    string
	EventsGroup     string
	EventsConsumer  string
	PublishTimeout  time.Duration

	// BackfillOnStart replays the ledger through the balance engine before
	// the event consumer starts.
	BackfillOnStart  bool
	BackfillPageSize int
}

// Load reads configuration from environment variables, falling back to
// defaults. An optional .env file named by CONFIG_FILE is read first and
// overridden by the environment.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("BALANCE_DELTA_TTL", "24h")
	v.SetDefault("ACCOUNT_CACHE_TTL", "5m")
	v.SetDefault("FLUSH_INTERVAL", "5s")
	v.SetDefault("EVENTS_STREAM", "ledger-events")
	v.SetDefault("EVENTS_GROUP", "balance-engine")
	v.SetDefault("EVENTS_CONSUMER", "balance-engine-1")
	v.SetDefault("PUBLISH_TIMEOUT", "5s")
	v.SetDefault("BACKFILL_ON_START", false)
	v.SetDefault("BACKFILL_PAGE_SIZE", 500)
	v.AutomaticEnv()

	if v.IsSet("CONFIG_FILE") {
		v.SetConfigFile(v.GetString("CONFIG_FILE"))
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", v.GetString("CONFIG_FILE"), err)
		}
	}

	cfg := &Config{
		Port:            v.GetString("PORT"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisURL:        v.GetString("REDIS_URL"),
		BalanceDeltaTTL: v.GetDuration("BALANCE_DELTA_TTL"),
		AccountCacheTTL: v.GetDuration("ACCOUNT_CACHE_TTL"),
		FlushInterval:   v.GetDuration("FLUSH_INTERVAL"),
		EventsStream:    v.GetString("EVENTS_STREAM"),
		EventsGroup:     v.GetString("EVENTS_GROUP"),
		EventsConsumer:  v.GetString("EVENTS_CONSUMER"),
		PublishTimeout:  v.GetDuration("PUBLISH_TIMEOUT"),

		BackfillOnStart:  v.GetBool("BACKFILL_ON_START"),
		BackfillPageSize: v.GetInt("BACKFILL_PAGE_SIZE"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return errors.New("config: PORT must not be empty")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: FLUSH_INTERVAL must be positive, got %s", c.FlushInterval)
	}
	if c.BalanceDeltaTTL < 0 {
		return fmt.Errorf("config: BALANCE_DELTA_TTL must not be negative, got %s", c.BalanceDeltaTTL)
	}
	if c.BackfillPageSize <= 0 {
		return fmt.Errorf("config: BACKFILL_PAGE_SIZE must be positive, got %d", c.BackfillPageSize)
	}
	if c.RedisURL != "" && (c.EventsStream == "" || c.EventsGroup == "" || c.EventsConsumer == "") {
		return errors.New("config: EVENTS_STREAM, EVENTS_GROUP and EVENTS_CONSUMER are required with REDIS_URL")
	}
	return nil
}
