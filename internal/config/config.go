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
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Scrape     ScrapeConfig     `mapstructure:"scrape"`
	PdfStore   PdfStoreConfig   `mapstructure:"pdf_store"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicBaseURL is the externally reachable base used to build PDF
	// URLs the downstream store can fetch.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// BrowserConfig configures the headless browser subsystem.
type BrowserConfig struct {
	ExecPath        string `mapstructure:"exec_path"`
	UserAgent       string `mapstructure:"user_agent"`
	LaunchRetries   int    `mapstructure:"launch_retries"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	PdfSniffTimeout int    `mapstructure:"pdf_sniff_timeout_seconds"`
}

// ScrapeConfig governs per-run scraper behavior.
type ScrapeConfig struct {
	InitTimeoutSec   int `mapstructure:"init_timeout_seconds"`
	CountyTimeoutSec int `mapstructure:"county_timeout_seconds"`
	StaleAfterDays   int `mapstructure:"stale_after_days"`
}

// PdfStoreConfig sets the PDF store directory and retention.
type PdfStoreConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	MinBytes      int    `mapstructure:"min_bytes"`
	StrictCheck   bool   `mapstructure:"strict_check"`
}

// DownstreamConfig describes the downstream tabular store API.
type DownstreamConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Table      string `mapstructure:"table"`
	CountyLink string `mapstructure:"county_link_table"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECORDERFEED")
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
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("browser.user_agent", "recorder-feed/0.1")
	v.SetDefault("browser.launch_retries", 3)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.pdf_sniff_timeout_seconds", 10)
	v.SetDefault("scrape.init_timeout_seconds", 60)
	v.SetDefault("scrape.county_timeout_seconds", 600)
	v.SetDefault("scrape.stale_after_days", 14)
	v.SetDefault("pdf_store.dir", "data/pdfs")
	v.SetDefault("pdf_store.retention_days", 30)
	v.SetDefault("pdf_store.min_bytes", 1024)
	v.SetDefault("pdf_store.strict_check", false)
	v.SetDefault("downstream.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Browser.LaunchRetries <= 0 {
		return fmt.Errorf("browser.launch_retries must be > 0")
	}
	if c.PdfStore.RetentionDays <= 0 {
		return fmt.Errorf("pdf_store.retention_days must be > 0")
	}
	if c.Downstream.BaseURL != "" && c.Downstream.Table == "" {
		return fmt.Errorf("downstream.table must be set when downstream.base_url is set")
	}
	return nil
}

// NavTimeout converts the browser navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// CountyTimeout bounds one county's scrape pass.
func (c Config) CountyTimeout() time.Duration {
	return time.Duration(c.Scrape.CountyTimeoutSec) * time.Second
}

// InitTimeout bounds browser initialization.
func (c Config) InitTimeout() time.Duration {
	return time.Duration(c.Scrape.InitTimeoutSec) * time.Second
}
