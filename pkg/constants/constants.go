package constants

import "time"

// Message length limits for different platforms
const (
	// MaxDiscordMessageLength is Discord's message character limit
	MaxDiscordMessageLength = 2000
	// MaxTelegramMessageLength is Telegram's message character limit
	MaxTelegramMessageLength = 4096
	// MaxVKMessageLength is VK's message character limit
	MaxVKMessageLength = 4096
	// MaxCallbackAnswerLength is Telegram's answerCallbackQuery text limit
	MaxCallbackAnswerLength = 200
)

// Long polling
const (
	// TelegramPollTimeout is the server-side wait window for getUpdates
	TelegramPollTimeout = 90 * time.Second
	// VKPollWait is the wait parameter (seconds) sent to the VK long poll server
	VKPollWait = 90
	// PollRequestGrace is added on top of the server wait window before the
	// client gives up on a long poll round trip
	PollRequestGrace = 15 * time.Second
)

// Backoff defaults for the long poll engine
const (
	// DefaultMinBackoff is the first retry delay and the value restored after a success
	DefaultMinBackoff = 100 * time.Millisecond
	// DefaultMaxBackoff caps the retry delay
	DefaultMaxBackoff = 10 * time.Second
	// DefaultBackoffFactor multiplies the delay after every failed cycle
	DefaultBackoffFactor = 3.0
)

// HTTP transport
const (
	// DefaultRequestTimeout bounds ordinary (non long poll) API calls
	DefaultRequestTimeout = 60 * time.Second
	// StreamBufferSize is the single working buffer used when pushing bodies
	StreamBufferSize = 8 * 1024
	// StopDrainTimeout is how long Stop waits for in-flight requests
	StopDrainTimeout = 5 * time.Second
)

// Message buffer sizes
const (
	// EventChannelBufferSize is the buffer size for the inbound event channel
	EventChannelBufferSize = 100
)

// Secret masking
const (
	// MinSecretLengthForMasking is the minimum secret length to apply partial masking
	MinSecretLengthForMasking = 10
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 4
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)
