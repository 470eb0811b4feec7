// Package config loads and validates the crawler configuration via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/kmilewski/listing-crawler/internal/discover"
	"github.com/kmilewski/listing-crawler/internal/discover/htmlsource"
)

// HTTP configures the fetch client.
type HTTP struct {
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	// RatePerHost is requests per second per host; zero or less disables
	// throttling.
	RatePerHost float64 `mapstructure:"rate_per_host"`
}

// IO configures on-disk outputs.
type IO struct {
	OutputCSV     string `mapstructure:"output_csv"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
}

// Discover configures the crawl schedule.
type Discover struct {
	MaxPages    int           `mapstructure:"max_pages"`
	RetryRounds int           `mapstructure:"retry_rounds"`
	RetrySleep  time.Duration `mapstructure:"retry_sleep"`
	// Limit caps total new items across the whole run; zero means uncapped.
	Limit int `mapstructure:"limit"`
}

// Server configures the optional status/metrics HTTP endpoint.
type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Logging configures the zap logger.
type Logging struct {
	Development bool `mapstructure:"development"`
}

// Unit declares one crawl unit in the config file.
type Unit struct {
	ID   string `mapstructure:"id"`
	City string `mapstructure:"city"`
	Deal string `mapstructure:"deal"`
	Kind string `mapstructure:"kind"`
}

// Config is the root configuration document.
type Config struct {
	HTTP     HTTP              `mapstructure:"http"`
	IO       IO                `mapstructure:"io"`
	Discover Discover          `mapstructure:"discover"`
	Source   htmlsource.Config `mapstructure:"source"`
	Server   Server            `mapstructure:"server"`
	Logging  Logging           `mapstructure:"logging"`
	Units    []Unit            `mapstructure:"units"`
}

// SetDefaults registers the default values on the viper instance. Call it
// before reading the config file so file values win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.user_agent", "listing-crawler/1.0")
	v.SetDefault("http.accept_language", "pl,en-US;q=0.7,en;q=0.3")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial", "1s")
	v.SetDefault("http.backoff_max", "20s")
	v.SetDefault("http.rate_per_host", 0.5)

	v.SetDefault("io.output_csv", "data/discovered_urls.csv")
	v.SetDefault("io.checkpoint_dir", "data/checkpoints")

	v.SetDefault("discover.max_pages", 200)
	v.SetDefault("discover.retry_rounds", 2)
	v.SetDefault("discover.retry_sleep", "30s")
	v.SetDefault("discover.limit", 0)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.development", false)
}

// Load unmarshals and validates the configuration from the viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the type system cannot.
func (c *Config) Validate() error {
	if c.Discover.MaxPages < 1 {
		return fmt.Errorf("discover.max_pages must be at least 1, got %d", c.Discover.MaxPages)
	}
	if c.Discover.RetryRounds < 0 {
		return fmt.Errorf("discover.retry_rounds must not be negative, got %d", c.Discover.RetryRounds)
	}
	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be at least 1, got %d", c.HTTP.MaxRetries)
	}
	if c.IO.OutputCSV == "" {
		return fmt.Errorf("io.output_csv is required")
	}
	if c.IO.CheckpointDir == "" {
		return fmt.Errorf("io.checkpoint_dir is required")
	}
	if len(c.Units) == 0 {
		return fmt.Errorf("at least one unit is required")
	}
	seen := make(map[string]struct{}, len(c.Units))
	for i, u := range c.Units {
		if u.ID == "" {
			return fmt.Errorf("units[%d]: id is required", i)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("units[%d]: duplicate id %q", i, u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}

// CrawlUnits converts the configured units to the discover type.
func (c *Config) CrawlUnits() []discover.Unit {
	out := make([]discover.Unit, len(c.Units))
	for i, u := range c.Units {
		out[i] = discover.Unit{ID: u.ID, City: u.City, Deal: u.Deal, Kind: u.Kind}
	}
	return out
}
