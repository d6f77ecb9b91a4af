package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_ValidConfig_ReturnsConfigStruct(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
security:
  whitelist_enabled: true
  allowed_users:
    telegram:
      - "1001"
  admins:
    telegram:
      - "1001"
bots:
  telegram:
    enabled: true
    token: "${TEST_TG_TOKEN}"
  vk:
    enabled: true
    token: "vk-token"
    group_id: 77
    document_owner_id: 5
  discord:
    enabled: false
http:
  transport: fast
  pool_size: 4
long_poll:
  min_delay: 200ms
  max_delay: 5s
  factor: 2
handlers: [log, echo]
`)
	t.Setenv("TEST_TG_TOKEN", "tg-token-12345")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tg-token-12345", config.Bots["telegram"].Token)
	assert.Equal(t, int64(77), config.Bots["vk"].GroupID)
	assert.Equal(t, int64(5), config.Bots["vk"].DocumentOwnerID)
	assert.Equal(t, []string{"telegram", "vk"}, config.EnabledBots())
	assert.Equal(t, TransportFast, config.HTTP.Transport)
	assert.Equal(t, 4, config.HTTP.PoolSize)
	assert.Equal(t, []string{HandlerLog, HandlerEcho}, config.Handlers)

	b := config.Backoff()
	assert.Equal(t, 200*time.Millisecond, b.Min)
	assert.Equal(t, 5*time.Second, b.Max)
	assert.Equal(t, 2.0, b.Factor)

	assert.True(t, config.IsUserAuthorized("telegram", "1001"))
	assert.False(t, config.IsUserAuthorized("telegram", "1002"))
	assert.False(t, config.IsUserAuthorized("vk", "1001"))
	assert.True(t, config.IsAdmin("telegram", "1001"))
	assert.False(t, config.IsAdmin("vk", "1001"))
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
handlers = ["echo"]

[bots.vk]
enabled = true
token = "vk-token"

[http]
transport = "pool"
request_timeout = "2m"

[logging]
level = "debug"
enable_stdout = false
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"vk"}, config.EnabledBots())
	assert.Equal(t, int64(0), config.Bots["vk"].GroupID)
	assert.Equal(t, 2*time.Minute, config.RequestTimeout())
	assert.Equal(t, []string{HandlerEcho}, config.Handlers)

	lc := config.LoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.False(t, lc.EnableStdout)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yml", `
bots:
  discord:
    enabled: true
    token: "discord-token"
    channel_id: "general"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultTransport, config.HTTP.Transport)
	assert.Equal(t, DefaultPoolSize, config.HTTP.PoolSize)
	assert.Equal(t, DefaultRequestTimeout, config.RequestTimeout())
	assert.Equal(t, []string{HandlerLog}, config.Handlers)
	assert.Equal(t, DefaultLogLevel, config.Logging.Level)
	assert.Equal(t, DefaultLogMaxSize, config.Logging.MaxSize)
	assert.True(t, config.LoggerConfig().EnableStdout)

	b := config.Backoff()
	assert.Equal(t, 100*time.Millisecond, b.Min)
	assert.Equal(t, 10*time.Second, b.Max)
	assert.Equal(t, 3.0, b.Factor)

	// Whitelist disabled admits everyone.
	assert.True(t, config.IsUserAuthorized("discord", "anyone"))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bots:
  telegram:
    enabled: false
    token: ""
`)
	t.Setenv("CHATLINK_TELEGRAM_TOKEN", "env-token")
	t.Setenv("CHATLINK_VK_TOKEN", "env-vk")
	t.Setenv("CHATLINK_VK_GROUP_ID", "42")
	t.Setenv("CHATLINK_HTTP_TRANSPORT", "fast")
	t.Setenv("CHATLINK_HTTP_POOL_SIZE", "3")
	t.Setenv("CHATLINK_LOG_LEVEL", "warn")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"telegram", "vk"}, config.EnabledBots())
	assert.Equal(t, "env-token", config.Bots["telegram"].Token)
	assert.Equal(t, int64(42), config.Bots["vk"].GroupID)
	assert.Equal(t, TransportFast, config.HTTP.Transport)
	assert.Equal(t, 3, config.HTTP.PoolSize)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoadConfig_MissingEnvVar(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bots:
  telegram:
    enabled: true
    token: "${CHATLINK_TEST_UNSET_VAR}"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATLINK_TEST_UNSET_VAR")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "bots: [unclosed")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidateConfig_Errors(t *testing.T) {
	enabled := map[string]BotConfig{"telegram": {Enabled: true, Token: "t"}}

	tests := []struct {
		name    string
		config  Config
		message string
	}{
		{"no bots", Config{}, "at least one bot must be enabled"},
		{"all disabled", Config{Bots: map[string]BotConfig{"vk": {Token: "t"}}}, "at least one bot must be enabled"},
		{"unknown bot", Config{Bots: map[string]BotConfig{"feishu": {Enabled: true, Token: "t"}}}, `unknown bot "feishu"`},
		{"missing token", Config{Bots: map[string]BotConfig{"vk": {Enabled: true}}}, "bots.vk.token is required"},
		{"negative group", Config{Bots: map[string]BotConfig{"vk": {Enabled: true, Token: "t", GroupID: -1}}}, "group_id must be positive"},
		{"bad transport", Config{Bots: enabled, HTTP: HTTPConfig{Transport: "grpc"}}, "http.transport"},
		{"negative pool", Config{Bots: enabled, HTTP: HTTPConfig{PoolSize: -2}}, "pool_size"},
		{"bad timeout", Config{Bots: enabled, HTTP: HTTPConfig{RequestTimeout: "soon"}}, "request_timeout"},
		{"short timeout", Config{Bots: enabled, HTTP: HTTPConfig{RequestTimeout: "30s"}}, "long poll window"},
		{"bad min delay", Config{Bots: enabled, LongPoll: LongPollConfig{MinDelay: "x"}}, "min_delay"},
		{"max below min", Config{Bots: enabled, LongPoll: LongPollConfig{MinDelay: "2s", MaxDelay: "1s"}}, "max_delay"},
		{"factor below one", Config{Bots: enabled, LongPoll: LongPollConfig{Factor: 0.5}}, "factor"},
		{"unknown handler", Config{Bots: enabled, Handlers: []string{"forward"}}, `unknown handler "forward"`},
		{"empty whitelist", Config{Bots: enabled, Security: SecurityConfig{WhitelistEnabled: true}}, "allowed_users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(&tt.config)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CHATLINK_TEST_A", "alpha")

	out, err := expandEnv("token: ${CHATLINK_TEST_A}")
	require.NoError(t, err)
	assert.Equal(t, "token: alpha", out)

	_, err = expandEnv("${CHATLINK_TEST_B} ${CHATLINK_TEST_C}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATLINK_TEST_B, CHATLINK_TEST_C")
}

func TestGetBotConfig(t *testing.T) {
	config := &Config{Bots: map[string]BotConfig{
		"telegram": {Enabled: true, Token: "t"},
		"vk":       {Enabled: false, Token: "v"},
	}}

	b, err := config.GetBotConfig("telegram")
	require.NoError(t, err)
	assert.Equal(t, "t", b.Token)

	_, err = config.GetBotConfig("vk")
	assert.EqualError(t, err, "bot type vk is disabled")

	_, err = config.GetBotConfig("discord")
	assert.EqualError(t, err, "bot type discord not found in configuration")
}
