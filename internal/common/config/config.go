// Package config provides configuration management for the claude-code-viewer backend.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AgentConfig holds agent engine (Claude Code CLI) configuration.
type AgentConfig struct {
	// Executable is the claude CLI binary name or path.
	Executable string `mapstructure:"executable"`

	// MinVersion is the minimum supported CLI version. Older versions are
	// rejected with an UpstreamUnavailable error before a process is spawned.
	MinVersion string `mapstructure:"minVersion"`

	// PermissionMode is the default permission mode for new session processes
	// (default, acceptEdits, bypassPermissions, plan).
	PermissionMode string `mapstructure:"permissionMode"`

	// PermissionTimeout is how long a tool-use permission request waits for a
	// human decision before it is denied, in seconds.
	PermissionTimeout int `mapstructure:"permissionTimeout"`

	// TerminalRetention is how long terminal session processes stay queryable
	// before the registry prunes them, in seconds.
	TerminalRetention int `mapstructure:"terminalRetention"`
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// CheckInterval is how often due jobs are evaluated, in seconds.
	CheckInterval int `mapstructure:"checkInterval"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"botToken"`
	ChatID   string `mapstructure:"chatId"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// PermissionTimeoutDuration returns the permission timeout as a time.Duration.
func (a *AgentConfig) PermissionTimeoutDuration() time.Duration {
	return time.Duration(a.PermissionTimeout) * time.Second
}

// TerminalRetentionDuration returns the terminal retention as a time.Duration.
func (a *AgentConfig) TerminalRetentionDuration() time.Duration {
	return time.Duration(a.TerminalRetention) * time.Second
}

// CheckIntervalDuration returns the scheduler check interval as a time.Duration.
func (s *SchedulerConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(s.CheckInterval) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if env := os.Getenv("CCV_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3400)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.path", "~/.claude-code-viewer/ccv.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "ccv-backend")
	v.SetDefault("nats.maxReconnects", 10)

	// Agent engine defaults
	v.SetDefault("agent.executable", "claude")
	v.SetDefault("agent.minVersion", "1.0.0")
	v.SetDefault("agent.permissionMode", "default")
	v.SetDefault("agent.permissionTimeout", 300)
	v.SetDefault("agent.terminalRetention", 600)

	// Scheduler defaults
	v.SetDefault("scheduler.checkInterval", 30)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.botToken", "")
	v.SetDefault("telegram.chatId", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CCV_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or ~/.claude-code-viewer/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CCV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.claude-code-viewer")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Agent.Executable == "" {
		errs = append(errs, "agent.executable is required")
	}
	if cfg.Agent.PermissionTimeout <= 0 {
		errs = append(errs, "agent.permissionTimeout must be positive")
	}

	if cfg.Scheduler.CheckInterval <= 0 {
		errs = append(errs, "scheduler.checkInterval must be positive")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken == "" {
		errs = append(errs, "telegram.botToken is required when telegram.enabled is true")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
