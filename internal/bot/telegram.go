package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/chatlink/internal/httpclient"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/internal/longpoll"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/sirupsen/logrus"
)

// PlatformTelegram is the Telegram platform key.
const PlatformTelegram = "telegram"

// TelegramBot implements Platform for Telegram using long polling
type TelegramBot struct {
	mu      sync.RWMutex
	token   string
	client  *TelegramClient
	backoff longpoll.Backoff
	self    *Identity
}

// TelegramOption configures a TelegramBot.
type TelegramOption func(*TelegramBot)

// WithTelegramAPIURL points the bot at another Bot API server.
func WithTelegramAPIURL(baseURL string) TelegramOption {
	return func(t *TelegramBot) {
		t.client = NewTelegramClient(t.token, t.client.http, baseURL)
	}
}

// WithTelegramBackoff overrides the long-poll backoff.
func WithTelegramBackoff(b longpoll.Backoff) TelegramOption {
	return func(t *TelegramBot) { t.backoff = b }
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(token string, http httpclient.Client, opts ...TelegramOption) *TelegramBot {
	t := &TelegramBot{
		token:   token,
		client:  NewTelegramClient(token, http, ""),
		backoff: longpoll.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TelegramBot) Name() string { return PlatformTelegram }

// Client exposes the underlying Bot API client.
func (t *TelegramBot) Client() *TelegramClient { return t.client }

// Run long-polls getUpdates until ctx is cancelled.
func (t *TelegramBot) Run(ctx context.Context, dispatch Dispatch) error {
	logger.WithFields(logrus.Fields{
		"token": maskSecret(t.token),
	}).Info("starting-telegram-bot-with-long-polling")

	source := NewTelegramLongPoll(t.client, t.setIdentity)
	engine := longpoll.NewEngine[tgbotapi.Update](PlatformTelegram, source,
		func(ctx context.Context, update tgbotapi.Update) error {
			return t.handleUpdate(ctx, update, dispatch)
		},
		longpoll.WithBackoff(t.backoff),
	)

	err := engine.Run(ctx)
	logger.Info("telegram-long-polling-stopped")
	return err
}

func (t *TelegramBot) setIdentity(u *tgbotapi.User) {
	id := telegramIdentity(u)
	t.mu.Lock()
	t.self = &id
	t.mu.Unlock()
}

func (t *TelegramBot) Identity() *Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.self
}

// handleUpdate normalizes one update. Messages and callback queries are the
// only kinds requested from getUpdates.
func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update, dispatch Dispatch) error {
	switch {
	case update.Message != nil:
		msg := telegramMessage(update.Message)
		logger.WithFields(logrus.Fields{
			"platform":    PlatformTelegram,
			"update_id":   update.UpdateID,
			"user_id":     msg.From.ID,
			"chat_id":     msg.ChatID,
			"message_id":  msg.ID,
			"content_len": len(msg.Text),
		}).Debug("received-telegram-message")
		return dispatch(ctx, msg)

	case update.CallbackQuery != nil:
		cb := telegramCallback(update.CallbackQuery)
		logger.WithFields(logrus.Fields{
			"platform":  PlatformTelegram,
			"update_id": update.UpdateID,
			"user_id":   cb.From.ID,
			"chat_id":   cb.ChatID,
		}).Debug("received-telegram-callback")
		return dispatch(ctx, cb)
	}
	return nil
}

func telegramIdentity(u *tgbotapi.User) Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{
		ID:       formatID(u.ID),
		Name:     strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username: u.UserName,
		IsBot:    u.IsBot,
	}
}

func telegramMessage(m *tgbotapi.Message) *Message {
	msg := &Message{
		Platform:  PlatformTelegram,
		ID:        strconv.Itoa(m.MessageID),
		From:      telegramIdentity(m.From),
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
		Raw:       m,
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.Chat != nil {
		msg.ChatID = formatID(m.Chat.ID)
	}
	if m.ReplyToMessage != nil {
		msg.ReplyTo = telegramMessage(m.ReplyToMessage)
	}
	return msg
}

func telegramCallback(q *tgbotapi.CallbackQuery) *KeyboardCallback {
	cb := &KeyboardCallback{
		Platform: PlatformTelegram,
		ID:       q.ID,
		From:     telegramIdentity(q.From),
		Data:     q.Data,
		Raw:      q,
	}
	if q.Message != nil {
		cb.MessageID = strconv.Itoa(q.Message.MessageID)
		if q.Message.Chat != nil {
			cb.ChatID = formatID(q.Message.Chat.ID)
		}
	}
	return cb
}

// SendMessage sends a message to a Telegram chat. Attachments are uploaded
// with the text as caption.
func (t *TelegramBot) SendMessage(ctx context.Context, out OutMessage) (*SentMessage, error) {
	if out.ChatID == "" {
		return nil, fmt.Errorf("chat ID is required for Telegram")
	}

	params := TelegramSendParams{
		ChatID:              out.ChatID,
		Text:                truncateRunes(out.Text, constants.MaxTelegramMessageLength),
		DisableNotification: out.DisableNotification,
	}
	if out.ReplyTo != "" {
		id, err := strconv.Atoi(out.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("%w: reply message %q", ErrInvalidChat, out.ReplyTo)
		}
		params.ReplyToMessageID = id
	}
	if params.Text != out.Text {
		logger.WithFields(logrus.Fields{
			"original_length": utf8.RuneCountInString(out.Text),
			"max_length":      constants.MaxTelegramMessageLength,
		}).Info("truncating-message-for-telegram-limit")
	}

	var (
		msg *tgbotapi.Message
		err error
	)
	switch {
	case out.Attachment == nil:
		msg, err = t.client.SendMessage(ctx, params)
	case out.Attachment.Type == AttachmentPhoto:
		msg, err = t.client.SendPhoto(ctx, params, out.Attachment.FileName, out.Attachment.Content)
	case out.Attachment.Type == AttachmentDocument:
		msg, err = t.client.SendDocument(ctx, params, out.Attachment.FileName, out.Attachment.Content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAttachment, out.Attachment.Type)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"chat_id": out.ChatID,
			"error":   err,
		}).Error("failed-to-send-message-to-telegram")
		return nil, fmt.Errorf("failed to send message to chat %s: %w", out.ChatID, err)
	}

	logger.WithField("chat_id", out.ChatID).Info("message-sent-to-telegram")
	id := strconv.Itoa(msg.MessageID)
	return &SentMessage{
		Platform:      PlatformTelegram,
		ChatID:        out.ChatID,
		MessageID:     id,
		ChatMessageID: id,
		HasAttachment: out.Attachment != nil,
	}, nil
}

// EditText edits the text of a text message or the caption of a media one.
func (t *TelegramBot) EditText(ctx context.Context, sent *SentMessage, text string) error {
	messageID, err := strconv.Atoi(sent.MessageID)
	if err != nil {
		return fmt.Errorf("%w: message %q", ErrInvalidChat, sent.MessageID)
	}
	if sent.HasAttachment {
		err = t.client.EditMessageCaption(ctx, sent.ChatID, messageID, text)
	} else {
		err = t.client.EditMessageText(ctx, sent.ChatID, messageID, text)
	}
	if err != nil {
		return fmt.Errorf("failed to edit message %s: %w", sent.MessageID, err)
	}
	return nil
}

// AnswerCallback answers a callback query. Telegram limits text to 200
// characters.
func (t *TelegramBot) AnswerCallback(ctx context.Context, cb *KeyboardCallback, text string) error {
	if n := utf8.RuneCountInString(text); n > constants.MaxCallbackAnswerLength {
		return fmt.Errorf("callback answer too long: %d > %d", n, constants.MaxCallbackAnswerLength)
	}
	if err := t.client.AnswerCallbackQuery(ctx, cb.ID, text); err != nil {
		return fmt.Errorf("failed to answer callback %s: %w", cb.ID, err)
	}
	cb.markAnswered()
	return nil
}

// FileURL resolves a file id to a download URL.
func (t *TelegramBot) FileURL(ctx context.Context, fileID string) (string, error) {
	file, err := t.client.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	return t.client.FileURL(file.FilePath), nil
}
