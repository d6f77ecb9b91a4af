package core

// Transport kinds accepted in http.transport.
const (
	TransportPool = "pool"
	TransportFast = "fast"
)

// Built-in handler names accepted in handlers.
const (
	HandlerLog  = "log"
	HandlerEcho = "echo"
)

// Config represents the complete chatlink configuration structure
type Config struct {
	Bots     map[string]BotConfig `yaml:"bots" toml:"bots"`
	HTTP     HTTPConfig           `yaml:"http" toml:"http"`
	LongPoll LongPollConfig       `yaml:"long_poll" toml:"long_poll"`
	Security SecurityConfig       `yaml:"security" toml:"security"`
	Handlers []string             `yaml:"handlers" toml:"handlers"`
	Logging  LoggingConfig        `yaml:"logging" toml:"logging"`
}

// BotConfig represents bot configuration. Keys of Config.Bots are platform
// names: telegram, vk, discord.
type BotConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Token   string `yaml:"token" toml:"token"`
	APIURL  string `yaml:"api_url" toml:"api_url"` // Overrides the platform API endpoint (optional)

	ChannelID string `yaml:"channel_id" toml:"channel_id"` // Discord: default channel for sends

	GroupID         int64 `yaml:"group_id" toml:"group_id"`                   // VK: community id, resolved from the token when 0
	DocumentOwnerID int64 `yaml:"document_owner_id" toml:"document_owner_id"` // VK: peer documents are uploaded for (default: destination)
}

// HTTPConfig selects and sizes the shared HTTP transport.
type HTTPConfig struct {
	Transport      string `yaml:"transport" toml:"transport"`             // pool or fast (default: pool)
	PoolSize       int    `yaml:"pool_size" toml:"pool_size"`             // Concurrent requests (default: 16)
	RequestTimeout string `yaml:"request_timeout" toml:"request_timeout"` // Response wait bound, must cover the long poll window (default: 105s)
}

// LongPollConfig overrides the retry backoff of every long poll worker.
type LongPollConfig struct {
	MinDelay string  `yaml:"min_delay" toml:"min_delay"` // default: 100ms
	MaxDelay string  `yaml:"max_delay" toml:"max_delay"` // default: 10s
	Factor   float64 `yaml:"factor" toml:"factor"`       // default: 3
}

// SecurityConfig represents security and access control configuration
type SecurityConfig struct {
	WhitelistEnabled bool                `yaml:"whitelist_enabled" toml:"whitelist_enabled"`
	AllowedUsers     map[string][]string `yaml:"allowed_users" toml:"allowed_users"`
	Admins           map[string][]string `yaml:"admins" toml:"admins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" toml:"level"`                 // debug, info, warn, error
	File         string `yaml:"file" toml:"file"`                   // Log file path
	MaxSize      int    `yaml:"max_size" toml:"max_size"`           // Single file max size in MB (default: 100)
	MaxBackups   int    `yaml:"max_backups" toml:"max_backups"`     // Number of backups to keep (default: 5)
	MaxAge       int    `yaml:"max_age" toml:"max_age"`             // Maximum days to retain (default: 30)
	Compress     bool   `yaml:"compress" toml:"compress"`           // Whether to compress old logs
	EnableStdout *bool  `yaml:"enable_stdout" toml:"enable_stdout"` // Also output to stdout (default: true)
}

// envOverrides are CHATLINK_* variables applied on top of the file.
type envOverrides struct {
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	VKToken       string `env:"VK_TOKEN"`
	VKGroupID     int64  `env:"VK_GROUP_ID"`
	DiscordToken  string `env:"DISCORD_TOKEN"`
	Transport     string `env:"HTTP_TRANSPORT"`
	PoolSize      int    `env:"HTTP_POOL_SIZE"`
	LogLevel      string `env:"LOG_LEVEL"`
	LogFile       string `env:"LOG_FILE"`
}
