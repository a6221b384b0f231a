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
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Mail      MailConfig      `mapstructure:"mail"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DB        DBConfig        `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs link-crawl behavior.
type CrawlerConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	PageTimeoutSeconds  int    `mapstructure:"page_timeout_seconds"`
	ProbeTimeoutSeconds int    `mapstructure:"probe_timeout_seconds"`
	MaxLinks            int    `mapstructure:"max_links"`
}

// AuditConfig points at the external performance audit API.
type AuditConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MailConfig configures the SMTP transport.
type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// SchedulerConfig controls the notification dispatcher.
// AllowSyntheticDefaults substitutes randomized placeholder performance
// values in reports when no audit data exists; off unless opted into.
type SchedulerConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	Timezone               string `mapstructure:"timezone"`
	AllowSyntheticDefaults bool   `mapstructure:"allow_synthetic_defaults"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	MaxConnLifeM int    `mapstructure:"max_conn_life_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCH")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("crawler.page_timeout_seconds", 10)
	v.SetDefault("crawler.probe_timeout_seconds", 5)
	v.SetDefault("crawler.max_links", 50)
	v.SetDefault("audit.endpoint",
		"https://www.googleapis.com/pagespeedonline/v5/runPagespeed")
	v.SetDefault("audit.timeout_seconds", 30)
	v.SetDefault("mail.port", 587)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Europe/Paris")
	v.SetDefault("scheduler.allow_synthetic_defaults", false)
	v.SetDefault("db.max_conns", 8)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.page_timeout_seconds must be > 0")
	}
	if c.Crawler.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.probe_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxLinks <= 0 {
		return fmt.Errorf("crawler.max_links must be > 0")
	}
	if c.Audit.TimeoutSeconds <= 0 {
		return fmt.Errorf("audit.timeout_seconds must be > 0")
	}
	if c.Scheduler.Timezone == "" {
		return fmt.Errorf("scheduler.timezone must be set")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}

// PageTimeout returns the base-page fetch budget.
func (c CrawlerConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the per-link probe budget.
func (c CrawlerConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// Timeout returns the audit request budget.
func (c AuditConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
