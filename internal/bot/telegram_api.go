package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/chatlink/internal/content"
	"github.com/keepmind9/chatlink/internal/httpclient"
)

// TelegramAPIURL is the public Bot API endpoint.
const TelegramAPIURL = "https://api.telegram.org"

// ErrTelegramAPI marks errors reported by the Bot API itself.
var ErrTelegramAPI = errors.New("telegram api error")

// TelegramError is an "ok": false response.
type TelegramError struct {
	Method      string
	Code        int
	Description string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram %s: [%d] %s", e.Method, e.Code, e.Description)
}

func (e *TelegramError) Is(target error) bool { return target == ErrTelegramAPI }

// TelegramClient calls Bot API methods over an httpclient.Client. Responses
// are decoded into the telegram-bot-api types.
type TelegramClient struct {
	http    httpclient.Client
	token   string
	baseURL string
}

// NewTelegramClient creates a client. An empty baseURL uses TelegramAPIURL.
func NewTelegramClient(token string, http httpclient.Client, baseURL string) *TelegramClient {
	if baseURL == "" {
		baseURL = TelegramAPIURL
	}
	return &TelegramClient{
		http:    http,
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *TelegramClient) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// FileURL is the download link for a path returned by getFile.
func (c *TelegramClient) FileURL(filePath string) string {
	return c.baseURL + "/file/bot" + c.token + "/" + filePath
}

// call posts body to method and returns the "result" field.
func (c *TelegramClient) call(ctx context.Context, method string, body content.Content) (json.RawMessage, error) {
	resp, err := c.http.Post(ctx, c.methodURL(method), body).Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	data, err := resp.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	var apiResp tgbotapi.APIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("telegram %s: %w", method, &httpclient.StatusError{Status: resp.Status, Body: string(data)})
		}
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !apiResp.Ok {
		return nil, &TelegramError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
	}
	return apiResp.Result, nil
}

// callJSON sends params as a JSON body and decodes the result into out.
func (c *TelegramClient) callJSON(ctx context.Context, method string, params any, out any) error {
	body := content.NewString("application/json", "{}")
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram %s: encode params: %w", method, err)
		}
		body = content.NewBytes("application/json", data)
	}

	result, err := c.call(ctx, method, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// GetMe returns the bot's own user.
func (c *TelegramClient) GetMe(ctx context.Context) (*tgbotapi.User, error) {
	var user tgbotapi.User
	if err := c.callJSON(ctx, "getMe", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type getUpdatesParams struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates long-polls for updates starting at offset. An offset of zero is
// omitted so the server starts from the oldest unconfirmed update.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration, allowed []string) ([]tgbotapi.Update, error) {
	params := getUpdatesParams{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: allowed,
	}
	var updates []tgbotapi.Update
	if err := c.callJSON(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// telegramChatID keeps numeric ids numeric and passes @usernames through.
type telegramChatID string

func (id telegramChatID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(id))
}

// TelegramSendParams are the fields shared by sendMessage, sendPhoto and
// sendDocument.
type TelegramSendParams struct {
	ChatID              string
	Text                string
	ReplyToMessageID    int
	DisableNotification bool
}

type sendMessageParams struct {
	ChatID              telegramChatID `json:"chat_id"`
	Text                string         `json:"text"`
	ReplyToMessageID    int            `json:"reply_to_message_id,omitempty"`
	DisableNotification bool           `json:"disable_notification,omitempty"`
}

// SendMessage sends a text message.
func (c *TelegramClient) SendMessage(ctx context.Context, p TelegramSendParams) (*tgbotapi.Message, error) {
	params := sendMessageParams{
		ChatID:              telegramChatID(p.ChatID),
		Text:                p.Text,
		ReplyToMessageID:    p.ReplyToMessageID,
		DisableNotification: p.DisableNotification,
	}
	var msg tgbotapi.Message
	if err := c.callJSON(ctx, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendPhoto uploads a photo with p.Text as caption.
func (c *TelegramClient) SendPhoto(ctx context.Context, p TelegramSendParams, fileName string, file content.Embeddable) (*tgbotapi.Message, error) {
	return c.sendMedia(ctx, "sendPhoto", "photo", p, fileName, file)
}

// SendDocument uploads a document with p.Text as caption.
func (c *TelegramClient) SendDocument(ctx context.Context, p TelegramSendParams, fileName string, file content.Embeddable) (*tgbotapi.Message, error) {
	return c.sendMedia(ctx, "sendDocument", "document", p, fileName, file)
}

func (c *TelegramClient) sendMedia(ctx context.Context, method, field string, p TelegramSendParams, fileName string, file content.Embeddable) (*tgbotapi.Message, error) {
	b := (&content.MultipartBuilder{}).AddField("chat_id", p.ChatID)
	if p.Text != "" {
		b.AddField("caption", p.Text)
	}
	if p.ReplyToMessageID != 0 {
		b.AddField("reply_to_message_id", strconv.Itoa(p.ReplyToMessageID))
	}
	if p.DisableNotification {
		b.AddField("disable_notification", "true")
	}
	b.AddFile(field, fileName, file)

	result, err := c.call(ctx, method, b.Build())
	if err != nil {
		return nil, err
	}
	var msg tgbotapi.Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return &msg, nil
}

type editParams struct {
	ChatID    telegramChatID `json:"chat_id"`
	MessageID int            `json:"message_id"`
	Text      string         `json:"text,omitempty"`
	Caption   string         `json:"caption,omitempty"`
}

// EditMessageText replaces a text message's text.
func (c *TelegramClient) EditMessageText(ctx context.Context, chatID string, messageID int, text string) error {
	return c.callJSON(ctx, "editMessageText", editParams{
		ChatID:    telegramChatID(chatID),
		MessageID: messageID,
		Text:      text,
	}, nil)
}

// EditMessageCaption replaces a media message's caption.
func (c *TelegramClient) EditMessageCaption(ctx context.Context, chatID string, messageID int, caption string) error {
	return c.callJSON(ctx, "editMessageCaption", editParams{
		ChatID:    telegramChatID(chatID),
		MessageID: messageID,
		Caption:   caption,
	}, nil)
}

type answerCallbackParams struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

// AnswerCallbackQuery acknowledges a callback query.
func (c *TelegramClient) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	return c.callJSON(ctx, "answerCallbackQuery", answerCallbackParams{
		CallbackQueryID: queryID,
		Text:            text,
	}, nil)
}

// GetFile resolves a file id to a downloadable path.
func (c *TelegramClient) GetFile(ctx context.Context, fileID string) (*tgbotapi.File, error) {
	var file tgbotapi.File
	if err := c.callJSON(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	return &file, nil
}
