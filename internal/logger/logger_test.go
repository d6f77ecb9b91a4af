package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T, level logrus.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	SetLogger(l)
	t.Cleanup(func() { SetLogger(nil) })
	return &buf
}

func TestInitLogger(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		config Config
	}{
		{
			name: "file only",
			config: Config{
				Level:      "info",
				File:       filepath.Join(dir, "chatlink.log"),
				MaxSize:    1,
				MaxBackups: 1,
				MaxAge:     1,
			},
		},
		{
			name:   "stdout only",
			config: Config{Level: "debug", EnableStdout: true},
		},
		{
			name: "file and stdout",
			config: Config{
				Level:        "warn",
				File:         filepath.Join(dir, "both.log"),
				EnableStdout: true,
			},
		},
		{
			name:   "invalid level",
			config: Config{Level: "invalid"},
		},
		{
			name:   "no writers",
			config: Config{Level: "info"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, InitLogger(tt.config))
			assert.NotNil(t, GetLogger())
		})
	}
	SetLogger(nil)
}

func TestInitLogger_CreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	err := InitLogger(Config{Level: "info", File: filepath.Join(dir, "test.log")})
	require.NoError(t, err)
	defer SetLogger(nil)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetLogger_DefaultsAndSameInstance(t *testing.T) {
	SetLogger(nil)

	l1 := GetLogger()
	l2 := GetLogger()
	assert.Same(t, l1, l2)
	assert.Equal(t, logrus.InfoLevel, l1.GetLevel())
}

func TestLogLevelSetting(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"invalid", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			require.NoError(t, InitLogger(Config{Level: tt.level}))
			assert.Equal(t, tt.expected, GetLogger().GetLevel())
		})
	}
	SetLogger(nil)
}

func TestFormatterSetting(t *testing.T) {
	require.NoError(t, InitLogger(Config{Level: "debug"}))
	assert.IsType(t, &logrus.TextFormatter{}, GetLogger().Formatter)

	require.NoError(t, InitLogger(Config{Level: "info"}))
	assert.IsType(t, &logrus.JSONFormatter{}, GetLogger().Formatter)
	SetLogger(nil)
}

func TestLogFunctions_RespectLevel(t *testing.T) {
	buf := captureLogger(t, logrus.InfoLevel)

	Debug("debug message")
	Info("info message")
	Warnf("warn %s", "message")
	Errorf("error %s", "message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestForPlatform(t *testing.T) {
	buf := captureLogger(t, logrus.InfoLevel)

	ForPlatform("telegram").WithField("offset", 42).Info("long-poll-batch")

	output := buf.String()
	assert.Contains(t, output, `"platform":"telegram"`)
	assert.Contains(t, output, `"offset":42`)
	assert.Contains(t, output, "long-poll-batch")
}

func TestWithFields(t *testing.T) {
	buf := captureLogger(t, logrus.InfoLevel)

	WithFields(logrus.Fields{"chat_id": "100", "action": "send"}).Info("outbound")
	WithField("key", "value").Info("single")

	output := buf.String()
	assert.Contains(t, output, `"chat_id":"100"`)
	assert.Contains(t, output, `"action":"send"`)
	assert.Contains(t, output, `"key":"value"`)
}
