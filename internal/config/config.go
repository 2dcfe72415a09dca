// Package config defines the HCL configuration schema for the rule engine
// and the loader that parses and validates it.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the root configuration for the rule engine daemon.
type Config struct {
	Server        *ServerConfig        `hcl:"server,block" json:"server,omitempty"`
	Storage       *StorageConfig       `hcl:"storage,block" json:"storage,omitempty"`
	Engine        *EngineConfig        `hcl:"engine,block" json:"engine,omitempty"`
	Logging       *LoggingConfig       `hcl:"logging,block" json:"logging,omitempty"`
	Notifications *NotificationsConfig `hcl:"notifications,block" json:"notifications,omitempty"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Listen         string `hcl:"listen,optional" json:"listen"`
	MaxBodyBytes   int64  `hcl:"max_body_bytes,optional" json:"max_body_bytes"`
	RateLimitRPS   int    `hcl:"rate_limit_rps,optional" json:"rate_limit_rps"`
	RateLimitBurst int    `hcl:"rate_limit_burst,optional" json:"rate_limit_burst"`
	EnableMetrics  bool   `hcl:"enable_metrics,optional" json:"enable_metrics"`
}

// StorageConfig controls the SQLite databases.
type StorageConfig struct {
	RulesDB            string `hcl:"rules_db,optional" json:"rules_db"`
	AuditDB            string `hcl:"audit_db,optional" json:"audit_db"`
	AuditRetentionDays int    `hcl:"audit_retention_days,optional" json:"audit_retention_days"`
}

// EngineConfig tunes rule engine behavior.
type EngineConfig struct {
	ValidationMode   string  `hcl:"validation_mode,optional" json:"validation_mode"`
	LinkCapacityMbps float64 `hcl:"link_capacity_mbps,optional" json:"link_capacity_mbps"`
	DefaultPriority  int     `hcl:"default_priority,optional" json:"default_priority"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `hcl:"level,optional" json:"level"`
	Format string `hcl:"format,optional" json:"format"` // console or json
}

// NotificationsConfig configures outbound notifications.
type NotificationsConfig struct {
	Enabled  bool                  `hcl:"enabled,optional" json:"enabled"`
	Channels []NotificationChannel `hcl:"channel,block" json:"channels,omitempty"`
}

// NotificationChannel is a single notification target.
type NotificationChannel struct {
	Name    string `hcl:"name,label" json:"name"`
	Type    string `hcl:"type" json:"type"`            // webhook, slack, discord, ntfy
	Level   string `hcl:"level,optional" json:"level"` // critical, warning, info
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`

	// Webhook/Slack/Discord settings
	WebhookURL string `hcl:"webhook_url,optional" json:"webhook_url,omitempty"`

	// ntfy settings
	Server string            `hcl:"server,optional" json:"server,omitempty"`
	Topic  string            `hcl:"topic,optional" json:"topic,omitempty"`
	Token  string            `hcl:"token,optional" json:"token,omitempty"`
	Headers map[string]string `hcl:"headers,optional" json:"headers,omitempty"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8090"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 50
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 100
	}

	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if c.Storage.RulesDB == "" {
		c.Storage.RulesDB = "/var/lib/supernode/rules.db"
	}
	if c.Storage.AuditDB == "" {
		c.Storage.AuditDB = "/var/lib/supernode/audit.db"
	}
	if c.Storage.AuditRetentionDays == 0 {
		c.Storage.AuditRetentionDays = 90
	}

	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
	if c.Engine.ValidationMode == "" {
		c.Engine.ValidationMode = "strict"
	}
	if c.Engine.LinkCapacityMbps == 0 {
		c.Engine.LinkCapacityMbps = 1000
	}
	if c.Engine.DefaultPriority == 0 {
		c.Engine.DefaultPriority = 100
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Notifications == nil {
		c.Notifications = &NotificationsConfig{}
	}
}

// Validate checks the config for inconsistencies.
func (c *Config) Validate() error {
	if c.Engine != nil {
		switch c.Engine.ValidationMode {
		case "strict", "lenient":
		default:
			return fmt.Errorf("engine.validation_mode must be strict or lenient, got %q", c.Engine.ValidationMode)
		}
		if c.Engine.LinkCapacityMbps < 0 {
			return fmt.Errorf("engine.link_capacity_mbps must not be negative")
		}
	}
	if c.Logging != nil {
		switch c.Logging.Format {
		case "console", "json":
		default:
			return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
		}
	}
	if c.Notifications != nil {
		for _, ch := range c.Notifications.Channels {
			switch ch.Type {
			case "webhook", "slack", "discord", "ntfy":
			default:
				return fmt.Errorf("notification channel %q: unknown type %q", ch.Name, ch.Type)
			}
		}
	}
	return nil
}

// LoadFile loads an HCL config file, applies defaults, and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadHCL(data, path)
}

// LoadHCL parses config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
