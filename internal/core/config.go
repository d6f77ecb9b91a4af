// Package core provides the connector engine and configuration management for chatlink.
//
// The core package wires configured chat platforms to a shared HTTP transport
// and fans every inbound event out to the enabled handlers. It handles:
//
//   - Configuration loading and validation (from YAML or TOML files)
//   - Environment overrides (CHATLINK_* variables)
//   - One long running worker per enabled platform
//   - Event dispatch with whitelist filtering and handler isolation
//   - Graceful shutdown of workers and transport
//
// # Main Components
//
//   - Engine: platform workers and lifecycle
//   - Dispatcher: handler fan-out
//   - Config: configuration structure and loading
//
// # Example Configuration
//
//	bots:
//	  telegram:
//	    enabled: true
//	    token: "${TELEGRAM_TOKEN}"
//	  vk:
//	    enabled: true
//	    token: "${VK_TOKEN}"
//	    group_id: 123456
//	http:
//	  transport: pool
//	  pool_size: 16
//	long_poll:
//	  min_delay: 100ms
//	  max_delay: 10s
//	  factor: 3
//	handlers: [log, echo]
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/internal/longpoll"
	"github.com/keepmind9/chatlink/pkg/constants"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel      = "info"
	DefaultLogMaxSize    = constants.DefaultLogMaxSize // MB
	DefaultLogMaxBackups = 5
	DefaultLogMaxAge     = constants.DefaultLogMaxAge // days

	DefaultTransport = TransportPool
	DefaultPoolSize  = 16

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CHATLINK_"
)

// DefaultRequestTimeout covers the longest long poll window plus its grace.
var DefaultRequestTimeout = constants.TelegramPollTimeout + constants.PollRequestGrace

// ErrInvalidConfig marks configuration validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// knownPlatforms are the keys accepted under bots.
var knownPlatforms = []string{bot.PlatformTelegram, bot.PlatformVK, bot.PlatformDiscord}

// LoadConfig loads configuration from file and expands environment variables.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func LoadConfig(configPath string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var config Config
	if err := decodeConfig(configPath, expandedData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func decodeConfig(path, data string, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(data, config)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.WithField("keys", keys).Warn("ignoring-unknown-config-keys")
		}
		return nil
	default:
		return yaml.Unmarshal([]byte(data), config)
	}
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// applyEnvOverrides applies CHATLINK_* variables. A token override also
// enables its platform.
func applyEnvOverrides(config *Config) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return err
	}

	if config.Bots == nil {
		config.Bots = make(map[string]BotConfig)
	}
	setToken := func(platform, token string) {
		if token == "" {
			return
		}
		b := config.Bots[platform]
		b.Token = token
		b.Enabled = true
		config.Bots[platform] = b
	}
	setToken(bot.PlatformTelegram, o.TelegramToken)
	setToken(bot.PlatformVK, o.VKToken)
	setToken(bot.PlatformDiscord, o.DiscordToken)
	if o.VKGroupID != 0 {
		b := config.Bots[bot.PlatformVK]
		b.GroupID = o.VKGroupID
		config.Bots[bot.PlatformVK] = b
	}

	if o.Transport != "" {
		config.HTTP.Transport = o.Transport
	}
	if o.PoolSize != 0 {
		config.HTTP.PoolSize = o.PoolSize
	}
	if o.LogLevel != "" {
		config.Logging.Level = o.LogLevel
	}
	if o.LogFile != "" {
		config.Logging.File = o.LogFile
	}
	return nil
}

// validateConfig fills defaults and validates the configuration
func validateConfig(config *Config) error {
	// Set default logging configuration
	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = DefaultLogMaxAge
	}
	if config.Logging.EnableStdout == nil {
		enabled := true
		config.Logging.EnableStdout = &enabled
	}

	// HTTP transport
	if config.HTTP.Transport == "" {
		config.HTTP.Transport = DefaultTransport
	}
	if config.HTTP.Transport != TransportPool && config.HTTP.Transport != TransportFast {
		return fmt.Errorf("%w: http.transport must be %q or %q (got %q)",
			ErrInvalidConfig, TransportPool, TransportFast, config.HTTP.Transport)
	}
	if config.HTTP.PoolSize == 0 {
		config.HTTP.PoolSize = DefaultPoolSize
	}
	if config.HTTP.PoolSize < 0 {
		return fmt.Errorf("%w: http.pool_size must be positive (got %d)", ErrInvalidConfig, config.HTTP.PoolSize)
	}
	if config.HTTP.RequestTimeout == "" {
		config.HTTP.RequestTimeout = DefaultRequestTimeout.String()
	}
	timeout, err := time.ParseDuration(config.HTTP.RequestTimeout)
	if err != nil {
		return fmt.Errorf("%w: invalid http.request_timeout: %w", ErrInvalidConfig, err)
	}
	if timeout < DefaultRequestTimeout {
		return fmt.Errorf("%w: http.request_timeout must be at least %v to cover the long poll window (got %v)",
			ErrInvalidConfig, DefaultRequestTimeout, timeout)
	}

	// Long poll backoff
	if config.LongPoll.MinDelay == "" {
		config.LongPoll.MinDelay = constants.DefaultMinBackoff.String()
	}
	if config.LongPoll.MaxDelay == "" {
		config.LongPoll.MaxDelay = constants.DefaultMaxBackoff.String()
	}
	if config.LongPoll.Factor == 0 {
		config.LongPoll.Factor = constants.DefaultBackoffFactor
	}
	minDelay, err := time.ParseDuration(config.LongPoll.MinDelay)
	if err != nil {
		return fmt.Errorf("%w: invalid long_poll.min_delay: %w", ErrInvalidConfig, err)
	}
	maxDelay, err := time.ParseDuration(config.LongPoll.MaxDelay)
	if err != nil {
		return fmt.Errorf("%w: invalid long_poll.max_delay: %w", ErrInvalidConfig, err)
	}
	if minDelay <= 0 {
		return fmt.Errorf("%w: long_poll.min_delay must be positive (got %v)", ErrInvalidConfig, minDelay)
	}
	if maxDelay < minDelay {
		return fmt.Errorf("%w: long_poll.max_delay must not be less than min_delay", ErrInvalidConfig)
	}
	if config.LongPoll.Factor < 1 {
		return fmt.Errorf("%w: long_poll.factor must be at least 1 (got %v)", ErrInvalidConfig, config.LongPoll.Factor)
	}

	// Handlers
	if len(config.Handlers) == 0 {
		config.Handlers = []string{HandlerLog}
	}
	for _, name := range config.Handlers {
		if name != HandlerLog && name != HandlerEcho {
			return fmt.Errorf("%w: unknown handler %q", ErrInvalidConfig, name)
		}
	}

	// Validate security settings
	if config.Security.WhitelistEnabled {
		if len(config.Security.AllowedUsers) == 0 {
			return fmt.Errorf("%w: security.allowed_users cannot be empty when whitelist is enabled", ErrInvalidConfig)
		}
	}

	// Validate bots
	enabled := 0
	for name, b := range config.Bots {
		if !slices.Contains(knownPlatforms, name) {
			return fmt.Errorf("%w: unknown bot %q (supported: %s)",
				ErrInvalidConfig, name, strings.Join(knownPlatforms, ", "))
		}
		if !b.Enabled {
			continue
		}
		if b.Token == "" {
			return fmt.Errorf("%w: bots.%s.token is required", ErrInvalidConfig, name)
		}
		if b.GroupID < 0 {
			return fmt.Errorf("%w: bots.%s.group_id must be positive", ErrInvalidConfig, name)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("%w: at least one bot must be enabled", ErrInvalidConfig)
	}

	return nil
}

// GetBotConfig retrieves configuration for a specific bot
func (c *Config) GetBotConfig(botType string) (BotConfig, error) {
	b, exists := c.Bots[botType]
	if !exists {
		return BotConfig{}, fmt.Errorf("bot type %s not found in configuration", botType)
	}

	if !b.Enabled {
		return BotConfig{}, fmt.Errorf("bot type %s is disabled", botType)
	}

	return b, nil
}

// EnabledBots returns the enabled platform names in sorted order.
func (c *Config) EnabledBots() []string {
	var names []string
	for name, b := range c.Bots {
		if b.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Backoff returns the long poll backoff. Invalid durations fall back to the
// defaults; LoadConfig rejects them earlier.
func (c *Config) Backoff() longpoll.Backoff {
	b := longpoll.Backoff{Factor: c.LongPoll.Factor}
	b.Min, _ = time.ParseDuration(c.LongPoll.MinDelay)
	b.Max, _ = time.ParseDuration(c.LongPoll.MaxDelay)
	return b
}

// RequestTimeout returns the parsed http.request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTP.RequestTimeout)
	if err != nil || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}

// LoggerConfig converts the logging section for logger.InitLogger.
func (c *Config) LoggerConfig() logger.Config {
	stdout := c.Logging.EnableStdout == nil || *c.Logging.EnableStdout
	return logger.Config{
		Level:        c.Logging.Level,
		File:         c.Logging.File,
		MaxSize:      c.Logging.MaxSize,
		MaxBackups:   c.Logging.MaxBackups,
		MaxAge:       c.Logging.MaxAge,
		Compress:     c.Logging.Compress,
		EnableStdout: stdout,
	}
}

// IsUserAuthorized checks if a user is in the whitelist
func (c *Config) IsUserAuthorized(platform, userID string) bool {
	// If whitelist is disabled, allow all users (warning: not recommended for production)
	if !c.Security.WhitelistEnabled {
		return true
	}

	// Get allowed users for this platform
	userIDs, exists := c.Security.AllowedUsers[platform]
	if !exists {
		return false
	}

	return slices.Contains(userIDs, userID)
}

// IsAdmin checks if a user is an admin
func (c *Config) IsAdmin(platform, userID string) bool {
	admins, exists := c.Security.Admins[platform]
	if !exists {
		return false
	}
	return slices.Contains(admins, userID)
}
