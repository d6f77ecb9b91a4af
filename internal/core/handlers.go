package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/sirupsen/logrus"
)

// LogHandler logs every event.
func LogHandler() Handler {
	return func(_ context.Context, _ bot.Platform, event bot.Event) error {
		switch ev := event.(type) {
		case *bot.Message:
			fields := logrus.Fields{
				"platform":    ev.Platform,
				"chat_id":     ev.ChatID,
				"message_id":  ev.ID,
				"user_id":     ev.From.ID,
				"content_len": len(ev.Text),
			}
			if ev.ReplyTo != nil {
				fields["reply_to"] = ev.ReplyTo.ID
			}
			logger.WithFields(fields).Info("message-received")
		case *bot.KeyboardCallback:
			logger.WithFields(logrus.Fields{
				"platform":    ev.Platform,
				"chat_id":     ev.ChatID,
				"callback_id": ev.ID,
				"user_id":     ev.From.ID,
				"data":        ev.Data,
			}).Info("keyboard-callback-received")
		}
		return nil
	}
}

// EchoHandler replies to messages with the sender's IM information followed
// by the text, which helps fill in the whitelist. Admins also see the bot
// identity. Callbacks are answered with their payload.
func EchoHandler(config *Config) Handler {
	return func(ctx context.Context, platform bot.Platform, event bot.Event) error {
		switch ev := event.(type) {
		case *bot.Message:
			_, err := platform.SendMessage(ctx, bot.OutMessage{
				ChatID:  ev.ChatID,
				Text:    echoText(config, platform, ev),
				ReplyTo: ev.ID,
			})
			if err != nil {
				return fmt.Errorf("failed to echo message: %w", err)
			}
			return nil
		case *bot.KeyboardCallback:
			if err := platform.AnswerCallback(ctx, ev, ev.Data); err != nil {
				return fmt.Errorf("failed to answer callback: %w", err)
			}
			return nil
		default:
			return nil
		}
	}
}

func echoText(config *Config, platform bot.Platform, msg *bot.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\nUser ID: %s\nChat ID: %s", msg.Platform, msg.From.ID, msg.ChatID)
	if config != nil && config.IsAdmin(msg.Platform, msg.From.ID) {
		if self := platform.Identity(); self != nil {
			fmt.Fprintf(&b, "\nBot: %s (%s)", self.Name, self.ID)
		}
	}
	if msg.Text != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Text)
	}
	return b.String()
}

// RegisterHandlers adds the handlers named in config.Handlers to d, in
// configuration order.
func RegisterHandlers(d *Dispatcher, config *Config) error {
	for _, name := range config.Handlers {
		switch name {
		case HandlerLog:
			d.Use(name, LogHandler())
		case HandlerEcho:
			d.Use(name, EchoHandler(config))
		default:
			return fmt.Errorf("%w: unknown handler %q", ErrInvalidConfig, name)
		}
	}
	return nil
}
