package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/keepmind9/chatlink/internal/httpclient"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/internal/longpoll"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// PlatformVK is the VK platform key.
const PlatformVK = "vk"

// VKBot implements Platform for a VK community using Bots Long Poll.
type VKBot struct {
	mu              sync.RWMutex
	token           string
	groupID         int64
	documentOwnerID int64
	client          *VKClient
	backoff         longpoll.Backoff
	self            *Identity
}

// VKOption configures a VKBot.
type VKOption func(*VKBot)

// WithVKAPIURL points the bot at another API server.
func WithVKAPIURL(baseURL string) VKOption {
	return func(v *VKBot) {
		v.client = NewVKClient(v.token, v.client.http, baseURL)
	}
}

// WithVKBackoff overrides the long-poll backoff.
func WithVKBackoff(b longpoll.Backoff) VKOption {
	return func(v *VKBot) { v.backoff = b }
}

// WithVKDocumentOwner sets the peer documents are uploaded for. By default
// documents are uploaded for the destination peer.
func WithVKDocumentOwner(peerID int64) VKOption {
	return func(v *VKBot) { v.documentOwnerID = peerID }
}

// NewVKBot creates a VK bot. A zero groupID is resolved from the token.
func NewVKBot(token string, groupID int64, http httpclient.Client, opts ...VKOption) *VKBot {
	v := &VKBot{
		token:   token,
		groupID: groupID,
		client:  NewVKClient(token, http, ""),
		backoff: longpoll.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *VKBot) Name() string { return PlatformVK }

// Client exposes the underlying API client.
func (v *VKBot) Client() *VKClient { return v.client }

// Run long-polls the community until ctx is cancelled.
func (v *VKBot) Run(ctx context.Context, dispatch Dispatch) error {
	logger.WithFields(logrus.Fields{
		"token":    maskSecret(v.token),
		"group_id": v.groupID,
	}).Info("starting-vk-bot-with-long-polling")

	source := NewVKLongPoll(v.client, v.groupID, v.setIdentity)
	engine := longpoll.NewEngine[VKUpdate](PlatformVK, source,
		func(ctx context.Context, update VKUpdate) error {
			return v.handleUpdate(ctx, update, dispatch)
		},
		longpoll.WithBackoff(v.backoff),
	)

	err := engine.Run(ctx)
	logger.Info("vk-long-polling-stopped")
	return err
}

func (v *VKBot) setIdentity(g *VKGroup) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.groupID = g.ID
	v.self = &Identity{
		// Communities are negative peers.
		ID:       formatID(-g.ID),
		Name:     g.Name,
		Username: g.ScreenName,
		IsBot:    true,
	}
}

func (v *VKBot) Identity() *Identity {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.self
}

func (v *VKBot) handleUpdate(ctx context.Context, update VKUpdate, dispatch Dispatch) error {
	switch update.Type {
	case "message_new":
		msg := update.Object.Get("message")
		if payload := msg.Get("payload"); payload.String() != "" {
			// Text keyboard buttons arrive as messages carrying a payload.
			return dispatch(ctx, &KeyboardCallback{
				Platform:  PlatformVK,
				ChatID:    formatID(msg.Get("peer_id").Int()),
				MessageID: formatID(msg.Get("conversation_message_id").Int()),
				From:      Identity{ID: formatID(msg.Get("from_id").Int())},
				Data:      payload.String(),
				Raw:       msg,
			})
		}
		m := vkMessage(msg)
		logger.WithFields(logrus.Fields{
			"platform":    PlatformVK,
			"user_id":     m.From.ID,
			"chat_id":     m.ChatID,
			"content_len": len(m.Text),
		}).Debug("received-vk-message")
		return dispatch(ctx, m)

	case "message_event":
		obj := update.Object
		cb := &KeyboardCallback{
			Platform:  PlatformVK,
			ID:        obj.Get("event_id").String(),
			ChatID:    formatID(obj.Get("peer_id").Int()),
			MessageID: formatID(obj.Get("conversation_message_id").Int()),
			From:      Identity{ID: formatID(obj.Get("user_id").Int())},
			Data:      obj.Get("payload").Raw,
			Raw:       obj,
		}
		err := dispatch(ctx, cb)
		if !cb.Answered() {
			// Callback buttons spin until answered.
			if answerErr := v.AnswerCallback(ctx, cb, ""); answerErr != nil {
				logger.WithFields(logrus.Fields{
					"event_id": cb.ID,
					"error":    answerErr,
				}).Warn("failed-to-answer-vk-message-event")
			}
		}
		return err

	default:
		logger.WithField("type", update.Type).Debug("ignoring-vk-update")
		return nil
	}
}

func vkMessage(m gjson.Result) *Message {
	msg := &Message{
		Platform:  PlatformVK,
		ID:        formatID(m.Get("conversation_message_id").Int()),
		ChatID:    formatID(m.Get("peer_id").Int()),
		From:      Identity{ID: formatID(m.Get("from_id").Int())},
		Text:      m.Get("text").String(),
		Timestamp: time.Unix(m.Get("date").Int(), 0),
		Raw:       m,
	}
	if reply := m.Get("reply_message"); reply.Exists() {
		msg.ReplyTo = vkMessage(reply)
	} else if fwd := m.Get("fwd_messages.0"); fwd.Exists() {
		msg.ReplyTo = vkMessage(fwd)
	}
	return msg
}

// SendMessage sends a message to a VK peer, uploading the attachment first.
func (v *VKBot) SendMessage(ctx context.Context, out OutMessage) (*SentMessage, error) {
	peerID, err := parseID("peer", out.ChatID)
	if err != nil {
		return nil, err
	}

	params := VKSendParams{
		PeerID:  peerID,
		Message: truncateRunes(out.Text, constants.MaxVKMessageLength),
	}
	if params.Message != out.Text {
		logger.WithFields(logrus.Fields{
			"original_length": utf8.RuneCountInString(out.Text),
			"max_length":      constants.MaxVKMessageLength,
		}).Info("truncating-message-for-vk-limit")
	}
	if out.ReplyTo != "" {
		if params.ReplyTo, err = parseID("reply message", out.ReplyTo); err != nil {
			return nil, err
		}
	}
	if out.Attachment != nil {
		if params.Attachment, err = v.uploadAttachment(ctx, peerID, out.Attachment); err != nil {
			return nil, fmt.Errorf("failed to upload attachment: %w", err)
		}
	}

	sent, err := v.client.MessagesSend(ctx, params)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"peer_id": peerID,
			"error":   err,
		}).Error("failed-to-send-message-to-vk")
		return nil, fmt.Errorf("failed to send message to peer %d: %w", peerID, err)
	}

	logger.WithField("peer_id", peerID).Info("message-sent-to-vk")
	return &SentMessage{
		Platform:      PlatformVK,
		ChatID:        out.ChatID,
		MessageID:     formatID(sent.MessageID),
		ChatMessageID: formatID(sent.ConversationMessageID),
		HasAttachment: out.Attachment != nil,
	}, nil
}

// uploadAttachment runs the upload server, upload, save sequence and
// returns the attachment string for messages.send.
func (v *VKBot) uploadAttachment(ctx context.Context, peerID int64, a *Attachment) (string, error) {
	switch a.Type {
	case AttachmentPhoto:
		uploadURL, err := v.client.PhotosGetMessagesUploadServer(ctx, peerID)
		if err != nil {
			return "", err
		}
		uploaded, err := v.client.Upload(ctx, uploadURL, "photo", a.FileName, a.Content)
		if err != nil {
			return "", err
		}
		return v.client.PhotosSaveMessagesPhoto(ctx, uploaded)

	case AttachmentDocument:
		owner := v.documentOwnerID
		if owner == 0 {
			owner = peerID
		}
		uploadURL, err := v.client.DocsGetMessagesUploadServer(ctx, owner)
		if err != nil {
			return "", err
		}
		uploaded, err := v.client.Upload(ctx, uploadURL, "file", a.FileName, a.Content)
		if err != nil {
			return "", err
		}
		return v.client.DocsSave(ctx, uploaded.Get("file").String(), a.FileName)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAttachment, a.Type)
	}
}

// EditText edits a message by its conversation message id.
func (v *VKBot) EditText(ctx context.Context, sent *SentMessage, text string) error {
	peerID, err := parseID("peer", sent.ChatID)
	if err != nil {
		return err
	}
	id := sent.ChatMessageID
	if id == "" || id == "0" {
		id = sent.MessageID
	}
	cmid, err := parseID("message", id)
	if err != nil {
		return err
	}
	if err := v.client.MessagesEdit(ctx, peerID, cmid, text); err != nil {
		return fmt.Errorf("failed to edit message %s: %w", id, err)
	}
	return nil
}

// AnswerCallback answers a callback button event, showing text as a
// snackbar when set. Text buttons have no event to answer.
func (v *VKBot) AnswerCallback(ctx context.Context, cb *KeyboardCallback, text string) error {
	if cb.ID == "" {
		return nil
	}
	userID, err := parseID("user", cb.From.ID)
	if err != nil {
		return err
	}
	peerID, err := parseID("peer", cb.ChatID)
	if err != nil {
		return err
	}

	var eventData string
	if text != "" {
		data, err := json.Marshal(map[string]string{"type": "show_snackbar", "text": text})
		if err != nil {
			return err
		}
		eventData = string(data)
	}

	if err := v.client.MessagesSendEventAnswer(ctx, cb.ID, userID, peerID, eventData); err != nil {
		return fmt.Errorf("failed to answer event %s: %w", cb.ID, err)
	}
	cb.markAnswered()
	return nil
}
