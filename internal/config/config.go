// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Store    StoreConfig    `mapstructure:"store"`
	Blob     BlobConfig     `mapstructure:"blob"`
	DB       DBConfig       `mapstructure:"db"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicBaseURL is used to build full view URLs (e.g. behind a proxy).
	// When empty the request host is used.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// FetchConfig governs target page retrieval.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
}

// HeadlessConfig configures the optional headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	MaxParallel       int      `mapstructure:"max_parallel"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes      int      `mapstructure:"min_html_bytes"`
	Keywords          []string `mapstructure:"keywords"`
	Selectors         []string `mapstructure:"selectors"`
}

// StoreConfig selects the entry store adapter and sets the entry cap.
type StoreConfig struct {
	// Provider is one of "memory", "local", "postgres".
	Provider   string `mapstructure:"provider"`
	MaxEntries int    `mapstructure:"max_entries"`
	Dir        string `mapstructure:"dir"`
}

// BlobConfig selects where rewritten documents are persisted.
type BlobConfig struct {
	// Provider is one of "memory", "local", "gcs".
	Provider    string `mapstructure:"provider"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// EventsConfig configures click-event publishing.
type EventsConfig struct {
	// Provider is one of "none", "memory", "pubsub".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIXELMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.accept_language", "ja,en-US;q=0.9,en;q=0.8")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.min_html_bytes", 512)
	v.SetDefault("headless.keywords", []string{"enable javascript", "noscript"})
	v.SetDefault("store.provider", "local")
	v.SetDefault("store.max_entries", 100)
	v.SetDefault("store.dir", "./urls")
	v.SetDefault("blob.provider", "local")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("blob.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.table", "entries")
	v.SetDefault("events.provider", "none")
	v.SetDefault("events.topic", "pixelmirror.clicks")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Store.MaxEntries <= 0 {
		return fmt.Errorf("store.max_entries must be > 0")
	}
	switch c.Store.Provider {
	case "memory", "postgres":
	case "local":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir must be set when store.provider is local")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	if c.Store.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when store.provider is postgres")
	}
	switch c.Blob.Provider {
	case "memory":
	case "local":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir must be set when blob.provider is local")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set when blob.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown blob.provider %q", c.Blob.Provider)
	}
	switch c.Events.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set when events.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// FetchTimeout converts the configured timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
