package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/internal/longpoll"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/sirupsen/logrus"
)

// TelegramLongPoll is the getUpdates offset protocol. The offset moves to
// update_id+1 after every dispatched update and never moves back.
type TelegramLongPoll struct {
	client  *TelegramClient
	timeout time.Duration
	allowed []string
	onReady func(*tgbotapi.User)
	log     *logrus.Entry

	offset int64
}

var _ longpoll.Source[tgbotapi.Update] = (*TelegramLongPoll)(nil)

// NewTelegramLongPoll creates the source. onReady, if set, receives the bot
// user fetched during Initialize.
func NewTelegramLongPoll(client *TelegramClient, onReady func(*tgbotapi.User)) *TelegramLongPoll {
	return &TelegramLongPoll{
		client:  client,
		timeout: constants.TelegramPollTimeout,
		allowed: []string{"message", "callback_query"},
		onReady: onReady,
		log:     logger.ForPlatform("telegram"),
	}
}

// Initialize checks the token with getMe.
func (s *TelegramLongPoll) Initialize(ctx context.Context) error {
	me, err := s.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"bot_username": me.UserName,
		"bot_id":       me.ID,
	}).Info("telegram-bot-identity-resolved")

	if s.onReady != nil {
		s.onReady(me)
	}
	return nil
}

// PollOnce performs one getUpdates round trip.
func (s *TelegramLongPoll) PollOnce(ctx context.Context, emit func(tgbotapi.Update)) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.timeout+constants.PollRequestGrace)
	defer cancel()

	updates, err := s.client.GetUpdates(pollCtx, s.offset, s.timeout, s.allowed)
	if err != nil {
		return fmt.Errorf("get updates: %w", err)
	}

	if len(updates) > 0 {
		s.log.WithField("count", len(updates)).Debug("telegram-updates-received")
	}
	for _, update := range updates {
		emit(update)
		s.offset = int64(update.UpdateID) + 1
	}
	return nil
}

// Offset is the next offset sent to getUpdates.
func (s *TelegramLongPoll) Offset() int64 { return s.offset }
