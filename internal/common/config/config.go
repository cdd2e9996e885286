// Package config provides configuration management for Juncture.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Juncture.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP control server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// AgentConfig holds the agent subprocess configuration.
type AgentConfig struct {
	// Command is the agent binary plus arguments, e.g. ["codex", "app-server"].
	Command []string `mapstructure:"command"`

	// WorkDir is the working directory for the agent subprocess. Defaults to
	// the current directory; per-session project paths override it per thread.
	WorkDir string `mapstructure:"workDir"`

	// Env holds extra environment entries (KEY=VALUE) for the subprocess.
	Env []string `mapstructure:"env"`

	// DefaultModel is the global fallback model id.
	DefaultModel string `mapstructure:"defaultModel"`

	// AutoApprove answers agent approval requests with "accept" when true,
	// "decline" otherwise.
	AutoApprove bool `mapstructure:"autoApprove"`

	// StderrBufferLines is the number of recent stderr lines kept for error context.
	StderrBufferLines int `mapstructure:"stderrBufferLines"`
}

// BridgeConfig holds bridge behavior tunables.
type BridgeConfig struct {
	// DataDir is where the session state file lives.
	DataDir string `mapstructure:"dataDir"`

	// RequestTimeout is the per-RPC deadline in seconds.
	RequestTimeout int `mapstructure:"requestTimeout"`

	// RequestRetries is the retry count for transient RPC failures.
	RequestRetries int `mapstructure:"requestRetries"`

	// ReconnectMaxAttempts caps scheduled reconnect attempts after a drop.
	ReconnectMaxAttempts int `mapstructure:"reconnectMaxAttempts"`

	// ReconnectBaseDelay is the linear backoff step in milliseconds.
	ReconnectBaseDelay int `mapstructure:"reconnectBaseDelay"`
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

// RequestTimeoutDuration returns the per-RPC deadline as a time.Duration.
func (b *BridgeConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(b.RequestTimeout) * time.Second
}

// ReconnectBaseDelayDuration returns the reconnect backoff step as a time.Duration.
func (b *BridgeConfig) ReconnectBaseDelayDuration() time.Duration {
	return time.Duration(b.ReconnectBaseDelay) * time.Millisecond
}

// StateFilePath returns the full path of the persisted session state file.
func (b *BridgeConfig) StateFilePath() string {
	return filepath.Join(b.DataDir, "sessions.json")
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" for production environments, "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("JUNCTURE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Agent defaults
	v.SetDefault("agent.command", []string{"codex", "app-server"})
	v.SetDefault("agent.workDir", ".")
	v.SetDefault("agent.env", []string{})
	v.SetDefault("agent.defaultModel", "gpt-5-codex")
	v.SetDefault("agent.autoApprove", false)
	v.SetDefault("agent.stderrBufferLines", 50)

	// Bridge defaults
	v.SetDefault("bridge.dataDir", defaultDataDir())
	v.SetDefault("bridge.requestTimeout", 30)
	v.SetDefault("bridge.requestRetries", 2)
	v.SetDefault("bridge.reconnectMaxAttempts", 5)
	v.SetDefault("bridge.reconnectBaseDelay", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".juncture"
	}
	return filepath.Join(home, ".juncture")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix JUNCTURE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or ~/.juncture/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("JUNCTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("server.readTimeout", "JUNCTURE_SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "JUNCTURE_SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("agent.workDir", "JUNCTURE_AGENT_WORK_DIR")
	_ = v.BindEnv("agent.defaultModel", "JUNCTURE_AGENT_DEFAULT_MODEL")
	_ = v.BindEnv("agent.autoApprove", "JUNCTURE_AGENT_AUTO_APPROVE")
	_ = v.BindEnv("agent.stderrBufferLines", "JUNCTURE_AGENT_STDERR_BUFFER_LINES")
	_ = v.BindEnv("bridge.dataDir", "JUNCTURE_BRIDGE_DATA_DIR")
	_ = v.BindEnv("bridge.requestTimeout", "JUNCTURE_BRIDGE_REQUEST_TIMEOUT")
	_ = v.BindEnv("bridge.requestRetries", "JUNCTURE_BRIDGE_REQUEST_RETRIES")
	_ = v.BindEnv("bridge.reconnectMaxAttempts", "JUNCTURE_BRIDGE_RECONNECT_MAX_ATTEMPTS")
	_ = v.BindEnv("bridge.reconnectBaseDelay", "JUNCTURE_BRIDGE_RECONNECT_BASE_DELAY")
	_ = v.BindEnv("logging.outputPath", "JUNCTURE_LOGGING_OUTPUT_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(defaultDataDir())

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

	if len(cfg.Agent.Command) == 0 {
		errs = append(errs, "agent.command must not be empty")
	}

	if cfg.Bridge.RequestTimeout <= 0 {
		errs = append(errs, "bridge.requestTimeout must be positive")
	}
	if cfg.Bridge.RequestRetries < 0 {
		errs = append(errs, "bridge.requestRetries must not be negative")
	}
	if cfg.Bridge.ReconnectMaxAttempts < 0 {
		errs = append(errs, "bridge.reconnectMaxAttempts must not be negative")
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
