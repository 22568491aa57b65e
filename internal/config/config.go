// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Sitemap   SitemapConfig   `mapstructure:"sitemap"`
	Atlas     AtlasConfig     `mapstructure:"atlas"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// FetchConfig governs outbound page fetches.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	Accept         string `mapstructure:"accept"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SitemapConfig bounds breadth-first crawls.
type SitemapConfig struct {
	MaxPages     int `mapstructure:"max_pages"`
	QueueFanout  int `mapstructure:"queue_fanout"`
	DefaultDepth int `mapstructure:"default_depth"`
}

// AtlasConfig bounds structural snapshots.
type AtlasConfig struct {
	MaxElements int `mapstructure:"max_elements"`
}

// EmbeddingConfig configures the external embedding provider.
type EmbeddingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BatchLimit     int    `mapstructure:"batch_limit"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	LifetimeSeconds int    `mapstructure:"lifetime_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEINTEL")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("fetch.user_agent", "SiteIntel/1.0")
	v.SetDefault("fetch.accept", "text/html,application/xhtml+xml")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("sitemap.max_pages", 5000)
	v.SetDefault("sitemap.queue_fanout", 4)
	// 0 means unlimited; a depth cap is always an explicit choice.
	v.SetDefault("sitemap.default_depth", 0)
	v.SetDefault("atlas.max_elements", 200)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.batch_limit", 50)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.lifetime_seconds", 1800)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Sitemap.MaxPages <= 0 {
		return fmt.Errorf("sitemap.max_pages must be > 0")
	}
	if c.Sitemap.QueueFanout < 2 {
		return fmt.Errorf("sitemap.queue_fanout must be >= 2")
	}
	if c.Atlas.MaxElements <= 0 {
		return fmt.Errorf("atlas.max_elements must be > 0")
	}
	if c.Embedding.BatchLimit <= 0 {
		return fmt.Errorf("embedding.batch_limit must be > 0")
	}
	return nil
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// EmbeddingTimeout returns the embedding call timeout as a duration.
func (c Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSeconds) * time.Second
}

// ServerTimeout returns the per-request server timeout as a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// DBLifetime returns the connection lifetime as a duration.
func (c Config) DBLifetime() time.Duration {
	return time.Duration(c.DB.LifetimeSeconds) * time.Second
}
