// Package bot provides platform adapters for the chat connector.
//
// Each adapter turns its platform's updates into normalized events and
// exposes the outbound actions the rest of the connector needs.
//
// # Supported Platforms
//
//   - Telegram: Bot API long polling with a single monotonic offset
//   - VK: community Bots Long Poll with a renewable (server, key, ts) session
//   - Discord: WebSocket gateway through discordgo
//
// # Usage
//
//	tg := bot.NewTelegramBot(token, httpClient)
//	go tg.Run(ctx, func(ctx context.Context, ev bot.Event) error {
//	    if msg, ok := ev.(*bot.Message); ok {
//	        _, err := tg.SendMessage(ctx, bot.OutMessage{ChatID: msg.ChatID, Text: msg.Text})
//	        return err
//	    }
//	    return nil
//	})
//
// # Thread Safety
//
// Run is called once per platform and owns the platform's cursor. The
// outbound methods are safe for concurrent use, including from inside the
// dispatch callback.
package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/keepmind9/chatlink/internal/content"
)

var (
	// ErrUnsupportedAttachment is returned for attachment types a platform
	// cannot upload.
	ErrUnsupportedAttachment = errors.New("unsupported attachment type")
	// ErrUnsupported is returned for actions a platform has no equivalent for.
	ErrUnsupported = errors.New("operation not supported by platform")
	// ErrInvalidChat is returned when a chat or message id cannot be parsed.
	ErrInvalidChat = errors.New("invalid chat id")
)

// Platform is a messaging platform the connector can run.
type Platform interface {
	// Name is the lowercase platform key used in configuration and logs.
	Name() string

	// Run receives events until ctx is cancelled. It returns nil on
	// cancellation and an error if the platform could not start.
	Run(ctx context.Context, dispatch Dispatch) error

	// Identity is the bot's own account, nil until Run has connected.
	Identity() *Identity

	// SendMessage sends text, an attachment or both.
	SendMessage(ctx context.Context, msg OutMessage) (*SentMessage, error)

	// EditText replaces the text (or caption) of a message sent earlier.
	EditText(ctx context.Context, sent *SentMessage, text string) error

	// AnswerCallback acknowledges a keyboard callback, optionally showing text.
	AnswerCallback(ctx context.Context, cb *KeyboardCallback, text string) error
}

// Dispatch receives normalized events. Returned errors are logged.
type Dispatch func(ctx context.Context, event Event) error

// Event is either *Message or *KeyboardCallback.
type Event interface {
	// Source is the platform the event came from.
	Source() string
	event()
}

// Identity is a user, group or bot account.
type Identity struct {
	ID       string
	Name     string
	Username string
	IsBot    bool
}

// Message is an inbound chat message.
type Message struct {
	Platform  string
	ID        string
	ChatID    string
	From      Identity
	Text      string
	ReplyTo   *Message
	Timestamp time.Time
	// Raw is the platform payload the message was decoded from.
	Raw any
}

func (m *Message) Source() string { return m.Platform }
func (*Message) event()            {}

// KeyboardCallback is a button press on a bot keyboard.
type KeyboardCallback struct {
	Platform string
	// ID identifies the callback for answering. Empty when the platform has
	// nothing to answer.
	ID        string
	ChatID    string
	MessageID string
	From      Identity
	Data      string
	Raw       any

	answered atomic.Bool
}

func (c *KeyboardCallback) Source() string { return c.Platform }
func (*KeyboardCallback) event()            {}

// Answered reports whether AnswerCallback succeeded for this callback.
func (c *KeyboardCallback) Answered() bool { return c.answered.Load() }

func (c *KeyboardCallback) markAnswered() { c.answered.Store(true) }

// AttachmentType selects how an attachment is uploaded.
type AttachmentType string

const (
	AttachmentPhoto    AttachmentType = "photo"
	AttachmentDocument AttachmentType = "document"
)

// Attachment is a file sent along with a message.
type Attachment struct {
	Type     AttachmentType
	FileName string
	Content  content.Embeddable
}

// OutMessage is an outbound message.
type OutMessage struct {
	ChatID              string
	Text                string
	ReplyTo             string
	DisableNotification bool
	Attachment          *Attachment
}

// SentMessage refers to a message the bot sent.
type SentMessage struct {
	Platform  string
	ChatID    string
	MessageID string
	// ChatMessageID is the per-conversation id on platforms that have one.
	ChatMessageID string
	HasAttachment bool
}
