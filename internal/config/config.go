// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime setting. Values that vary per deployment have no
// default; values shared by every deployment do.
type Config struct {
	Env       string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8099"`
	DataDir   string `envconfig:"DATA_DIR" default:"/data"`
	StaticDir string `envconfig:"STATIC_DIR"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// PropertyID keys the single rentable resource in emitted events.
	PropertyID       string `envconfig:"PROPERTY_ID" default:"default"`
	PropertyTimezone string `envconfig:"PROPERTY_TIMEZONE" default:"UTC"`

	CalendarFeedURL  string        `envconfig:"CALENDAR_FEED_URL"`
	CalendarFeedName string        `envconfig:"CALENDAR_FEED_NAME" default:"Airbnb"`
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"15m"`
	FeedFetchTimeout time.Duration `envconfig:"FEED_FETCH_TIMEOUT" default:"30s"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`

	DefaultCheckinTime  string `envconfig:"DEFAULT_CHECKIN_TIME" default:"15:00"`
	DefaultCheckoutTime string `envconfig:"DEFAULT_CHECKOUT_TIME" default:"11:00"`

	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopicPrefix string   `envconfig:"KAFKA_TOPIC_PREFIX"`
}

// Load reads an optional dotenv file and then the process environment.
// A missing envFile is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, errors.Wrapf(err, "loading %s", envFile)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "processing env config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.PropertyTimezone); err != nil {
		return errors.Wrapf(err, "invalid PROPERTY_TIMEZONE %q", c.PropertyTimezone)
	}
	if c.SyncInterval < time.Minute {
		return errors.Newf("SYNC_INTERVAL must be at least 1m, got %s", c.SyncInterval)
	}
	if c.FeedFetchTimeout <= 0 {
		return errors.New("FEED_FETCH_TIMEOUT must be positive")
	}
	if c.SweepInterval < time.Second {
		return errors.Newf("SWEEP_INTERVAL must be at least 1s, got %s", c.SweepInterval)
	}
	for _, v := range []string{c.DefaultCheckinTime, c.DefaultCheckoutTime} {
		if _, err := time.Parse("15:04", v); err != nil {
			return errors.Newf("invalid time of day %q, want HH:MM", v)
		}
	}
	return nil
}

// Location returns the property's time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PropertyTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabasePath returns the SQLite file inside DataDir.
func (c Config) DatabasePath() string {
	return c.DataDir + "/stay-ledger.db"
}
