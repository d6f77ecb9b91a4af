package bot

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/sirupsen/logrus"
)

// PlatformDiscord is the Discord platform key.
const PlatformDiscord = "discord"

// DiscordSessionInterface defines the interface we need from discordgo.Session
// This allows us to mock it in tests without depending on concrete types
type DiscordSessionInterface interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// DiscordBot implements Platform for Discord over the gateway. Button
// presses on message components arrive as keyboard callbacks.
type DiscordBot struct {
	mu        sync.RWMutex
	token     string
	channelID string
	session   DiscordSessionInterface
	self      *Identity
}

// NewDiscordBot creates a new Discord bot instance. channelID is the default
// target for messages sent without a chat id.
func NewDiscordBot(token, channelID string) *DiscordBot {
	return &DiscordBot{
		token:     token,
		channelID: channelID,
	}
}

// NewDiscordBotWithSession creates a bot over an existing session.
func NewDiscordBotWithSession(session DiscordSessionInterface, channelID string) *DiscordBot {
	return &DiscordBot{channelID: channelID, session: session}
}

func (d *DiscordBot) Name() string { return PlatformDiscord }

func (d *DiscordBot) Identity() *Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.self
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (d *DiscordBot) Run(ctx context.Context, dispatch Dispatch) error {
	logger.WithFields(logrus.Fields{
		"token":   maskSecret(d.token),
		"channel": d.channelID,
	}).Info("starting-discord-bot")

	d.mu.Lock()
	if d.session == nil {
		session, err := discordgo.New("Bot " + d.token)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("failed to create discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentMessageContent
		d.session = session
	}
	session := d.session
	d.mu.Unlock()

	removeReady := session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		d.setIdentity(r.User)
	})
	removeMessage := session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(ctx, m, dispatch)
	})
	removeInteraction := session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		d.handleInteraction(ctx, i, dispatch)
	})
	defer func() {
		removeReady()
		removeMessage()
		removeInteraction()
	}()

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}

	<-ctx.Done()

	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	logger.Info("discord-bot-stopped")
	return nil
}

func (d *DiscordBot) setIdentity(u *discordgo.User) {
	if u == nil {
		return
	}
	id := discordIdentity(u)
	d.mu.Lock()
	d.self = &id
	d.mu.Unlock()
}

func discordIdentity(u *discordgo.User) Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{ID: u.ID, Name: u.Username, Username: u.Username, IsBot: u.Bot}
}

func (d *DiscordBot) handleMessage(ctx context.Context, m *discordgo.MessageCreate, dispatch Dispatch) {
	// Ignore messages from bots
	if m.Author == nil || m.Author.Bot {
		return
	}

	logger.WithFields(logrus.Fields{
		"platform":    PlatformDiscord,
		"user_id":     m.Author.ID,
		"username":    m.Author.Username,
		"channel":     m.ChannelID,
		"content_len": len(m.Content),
	}).Debug("received-discord-message")

	msg := &Message{
		Platform:  PlatformDiscord,
		ID:        m.ID,
		ChatID:    m.ChannelID,
		From:      discordIdentity(m.Author),
		Text:      m.Content,
		Timestamp: m.Timestamp,
		Raw:       m.Message,
	}
	if ref := m.ReferencedMessage; ref != nil {
		msg.ReplyTo = &Message{
			Platform: PlatformDiscord,
			ID:       ref.ID,
			ChatID:   ref.ChannelID,
			From:     discordIdentity(ref.Author),
			Text:     ref.Content,
			Raw:      ref,
		}
	}

	if err := dispatch(ctx, msg); err != nil {
		logger.WithFields(logrus.Fields{
			"platform": PlatformDiscord,
			"error":    err,
		}).Warn("discord-message-dispatch-failed")
	}
}

func (d *DiscordBot) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate, dispatch Dispatch) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	cb := &KeyboardCallback{
		Platform: PlatformDiscord,
		ID:       i.ID,
		ChatID:   i.ChannelID,
		From:     discordIdentity(user),
		Data:     i.MessageComponentData().CustomID,
		Raw:      i.Interaction,
	}
	if i.Message != nil {
		cb.MessageID = i.Message.ID
	}

	if err := dispatch(ctx, cb); err != nil {
		logger.WithFields(logrus.Fields{
			"platform": PlatformDiscord,
			"error":    err,
		}).Warn("discord-interaction-dispatch-failed")
	}
}

func (d *DiscordBot) currentSession() (DiscordSessionInterface, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, fmt.Errorf("discord session not initialized")
	}
	return d.session, nil
}

// truncateDiscord keeps the newest content, prefixed with "...".
func truncateDiscord(message string) string {
	const maxDiscordLength = constants.MaxDiscordMessageLength
	if len(message) <= maxDiscordLength {
		return message
	}
	logger.WithFields(logrus.Fields{
		"original_length": len(message),
		"max_length":      maxDiscordLength,
	}).Info("truncating-message-for-discord-limit")
	return "..." + message[len(message)-maxDiscordLength+3:]
}

// SendMessage sends a message to a Discord channel
func (d *DiscordBot) SendMessage(_ context.Context, out OutMessage) (*SentMessage, error) {
	session, err := d.currentSession()
	if err != nil {
		return nil, err
	}

	// Use configured channel if not specified
	target := out.ChatID
	if target == "" {
		target = d.channelID
	}
	text := truncateDiscord(out.Text)

	var msg *discordgo.Message
	if out.Attachment == nil && out.ReplyTo == "" {
		msg, err = session.ChannelMessageSend(target, text)
	} else {
		data := &discordgo.MessageSend{Content: text}
		if out.ReplyTo != "" {
			data.Reference = &discordgo.MessageReference{MessageID: out.ReplyTo, ChannelID: target}
		}
		if out.Attachment != nil {
			rc, openErr := out.Attachment.Content.Open()
			if openErr != nil {
				return nil, fmt.Errorf("failed to open attachment: %w", openErr)
			}
			defer rc.Close()
			data.Files = []*discordgo.File{discordFile(out.Attachment, rc)}
		}
		msg, err = session.ChannelMessageSendComplex(target, data)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel": target,
			"error":   err,
		}).Error("failed-to-send-message-to-discord")
		return nil, fmt.Errorf("failed to send message to channel %s: %w", target, err)
	}

	logger.WithField("channel", target).Info("message-sent-to-discord")
	return &SentMessage{
		Platform:      PlatformDiscord,
		ChatID:        target,
		MessageID:     msg.ID,
		ChatMessageID: msg.ID,
		HasAttachment: out.Attachment != nil,
	}, nil
}

func discordFile(a *Attachment, r io.Reader) *discordgo.File {
	return &discordgo.File{
		Name:        a.FileName,
		ContentType: a.Content.ContentType(),
		Reader:      r,
	}
}

// EditText replaces the content of a sent message.
func (d *DiscordBot) EditText(_ context.Context, sent *SentMessage, text string) error {
	session, err := d.currentSession()
	if err != nil {
		return err
	}
	if _, err := session.ChannelMessageEdit(sent.ChatID, sent.MessageID, truncateDiscord(text)); err != nil {
		return fmt.Errorf("failed to edit message %s: %w", sent.MessageID, err)
	}
	return nil
}

// AnswerCallback responds to a component interaction. Without text the
// interaction is acknowledged silently; with text an ephemeral reply is shown.
func (d *DiscordBot) AnswerCallback(_ context.Context, cb *KeyboardCallback, text string) error {
	session, err := d.currentSession()
	if err != nil {
		return err
	}
	interaction, ok := cb.Raw.(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("%w: callback has no interaction", ErrUnsupported)
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	}
	if err := session.InteractionRespond(interaction, resp); err != nil {
		return fmt.Errorf("failed to answer interaction %s: %w", cb.ID, err)
	}
	cb.markAnswered()
	return nil
}
