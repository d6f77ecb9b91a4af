package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keepmind9/chatlink/internal/content"
	"github.com/keepmind9/chatlink/internal/httpclient"
	"github.com/tidwall/gjson"
)

const (
	// VKAPIURL is the VK API method endpoint.
	VKAPIURL = "https://api.vk.com/method"
	// VKAPIVersion is the API version sent with every call.
	VKAPIVersion = "5.199"
)

// ErrVKAPI marks errors reported by the VK API.
var ErrVKAPI = errors.New("vk api error")

// VKError is an {"error": {...}} response.
type VKError struct {
	Method  string
	Code    int64
	Message string
}

func (e *VKError) Error() string {
	return fmt.Sprintf("vk %s: [%d] %s", e.Method, e.Code, e.Message)
}

func (e *VKError) Is(target error) bool { return target == ErrVKAPI }

// VKGroup is a community returned by groups.getById.
type VKGroup struct {
	ID         int64
	Name       string
	ScreenName string
}

// VKSession is a Bots Long Poll session.
type VKSession struct {
	Server string
	Key    string
	TS     string
}

// VKSent is one entry of a messages.send response.
type VKSent struct {
	PeerID                int64
	MessageID             int64
	ConversationMessageID int64
}

// VKSendParams are messages.send arguments.
type VKSendParams struct {
	PeerID     int64
	Message    string
	Attachment string
	ReplyTo    int64
}

// VKClient calls VK API methods with form encoded POSTs. Responses are read
// with gjson because VK mixes strings and numbers for the same fields.
type VKClient struct {
	http    httpclient.Client
	token   string
	baseURL string
}

// NewVKClient creates a client. An empty baseURL uses VKAPIURL.
func NewVKClient(token string, http httpclient.Client, baseURL string) *VKClient {
	if baseURL == "" {
		baseURL = VKAPIURL
	}
	return &VKClient{
		http:    http,
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Call invokes method and returns its "response" field.
func (c *VKClient) Call(ctx context.Context, method string, params url.Values) (gjson.Result, error) {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("access_token", c.token)
	form.Set("v", VKAPIVersion)

	body := content.NewString("application/x-www-form-urlencoded", form.Encode())
	resp, err := c.http.Post(ctx, c.baseURL+"/"+method, body).Await(ctx)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("vk %s: %w", method, err)
	}
	data, err := resp.ReadSuccess()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("vk %s: %w", method, err)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("vk %s: malformed response", method)
	}

	result := gjson.ParseBytes(data)
	if apiErr := result.Get("error"); apiErr.Exists() {
		return gjson.Result{}, &VKError{
			Method:  method,
			Code:    apiErr.Get("error_code").Int(),
			Message: apiErr.Get("error_msg").String(),
		}
	}
	response := result.Get("response")
	if !response.Exists() {
		return gjson.Result{}, fmt.Errorf("vk %s: response field missing", method)
	}
	return response, nil
}

// GroupsGetByID returns the community for groupID, or the token's own
// community when groupID is zero.
func (c *VKClient) GroupsGetByID(ctx context.Context, groupID int64) (*VKGroup, error) {
	params := url.Values{}
	if groupID != 0 {
		params.Set("group_id", formatID(groupID))
	}
	r, err := c.Call(ctx, "groups.getById", params)
	if err != nil {
		return nil, err
	}

	// 5.139+ wraps the list in {"groups": [...]}.
	groups := r.Get("groups")
	if !groups.Exists() {
		groups = r
	}
	first := groups.Get("0")
	if !first.Exists() {
		return nil, fmt.Errorf("vk groups.getById: no group returned")
	}
	return &VKGroup{
		ID:         first.Get("id").Int(),
		Name:       first.Get("name").String(),
		ScreenName: first.Get("screen_name").String(),
	}, nil
}

// GroupsGetLongPollServer opens a new Bots Long Poll session.
func (c *VKClient) GroupsGetLongPollServer(ctx context.Context, groupID int64) (*VKSession, error) {
	r, err := c.Call(ctx, "groups.getLongPollServer", url.Values{"group_id": {formatID(groupID)}})
	if err != nil {
		return nil, err
	}
	s := &VKSession{
		Server: r.Get("server").String(),
		Key:    r.Get("key").String(),
		TS:     r.Get("ts").String(),
	}
	if s.Server == "" || s.Key == "" {
		return nil, fmt.Errorf("vk groups.getLongPollServer: incomplete session")
	}
	return s, nil
}

// MessagesSend sends a message to one peer.
func (c *VKClient) MessagesSend(ctx context.Context, p VKSendParams) (*VKSent, error) {
	params := url.Values{
		"peer_ids":  {formatID(p.PeerID)},
		"random_id": {strconv.FormatInt(time.Now().UnixNano(), 10)},
	}
	if p.Message != "" {
		params.Set("message", p.Message)
	}
	if p.Attachment != "" {
		params.Set("attachment", p.Attachment)
	}
	if p.ReplyTo != 0 {
		params.Set("reply_to", formatID(p.ReplyTo))
	}

	r, err := c.Call(ctx, "messages.send", params)
	if err != nil {
		return nil, err
	}

	// peer_ids returns a list of per-peer results; peer_id returns a bare id.
	if r.Type == gjson.Number {
		return &VKSent{PeerID: p.PeerID, MessageID: r.Int()}, nil
	}
	first := r.Get("0")
	if !first.Exists() {
		return nil, fmt.Errorf("vk messages.send: empty response")
	}
	if e := first.Get("error"); e.Exists() {
		return nil, &VKError{Method: "messages.send", Code: e.Get("code").Int(), Message: e.Get("description").String()}
	}
	return &VKSent{
		PeerID:                first.Get("peer_id").Int(),
		MessageID:             first.Get("message_id").Int(),
		ConversationMessageID: first.Get("conversation_message_id").Int(),
	}, nil
}

// MessagesEdit replaces the text of a conversation message.
func (c *VKClient) MessagesEdit(ctx context.Context, peerID, conversationMessageID int64, message string) error {
	_, err := c.Call(ctx, "messages.edit", url.Values{
		"peer_id":                 {formatID(peerID)},
		"conversation_message_id": {formatID(conversationMessageID)},
		"message":                 {message},
	})
	return err
}

// MessagesSendEventAnswer answers a callback button event. eventData may be
// empty or a JSON action object.
func (c *VKClient) MessagesSendEventAnswer(ctx context.Context, eventID string, userID, peerID int64, eventData string) error {
	params := url.Values{
		"event_id": {eventID},
		"user_id":  {formatID(userID)},
		"peer_id":  {formatID(peerID)},
	}
	if eventData != "" {
		params.Set("event_data", eventData)
	}
	_, err := c.Call(ctx, "messages.sendMessageEventAnswer", params)
	return err
}

// DocsGetMessagesUploadServer returns an upload URL for a document.
func (c *VKClient) DocsGetMessagesUploadServer(ctx context.Context, peerID int64) (string, error) {
	r, err := c.Call(ctx, "docs.getMessagesUploadServer", url.Values{
		"peer_id": {formatID(peerID)},
		"type":    {"doc"},
	})
	if err != nil {
		return "", err
	}
	return r.Get("upload_url").String(), nil
}

// DocsSave stores an uploaded document and returns its attachment id.
func (c *VKClient) DocsSave(ctx context.Context, file, title string) (string, error) {
	params := url.Values{"file": {file}}
	if title != "" {
		params.Set("title", title)
	}
	r, err := c.Call(ctx, "docs.save", params)
	if err != nil {
		return "", err
	}
	doc := r.Get("doc")
	if !doc.Exists() {
		return "", fmt.Errorf("vk docs.save: doc missing")
	}
	return fmt.Sprintf("doc%d_%d", doc.Get("owner_id").Int(), doc.Get("id").Int()), nil
}

// PhotosGetMessagesUploadServer returns an upload URL for a message photo.
func (c *VKClient) PhotosGetMessagesUploadServer(ctx context.Context, peerID int64) (string, error) {
	r, err := c.Call(ctx, "photos.getMessagesUploadServer", url.Values{"peer_id": {formatID(peerID)}})
	if err != nil {
		return "", err
	}
	return r.Get("upload_url").String(), nil
}

// PhotosSaveMessagesPhoto stores an uploaded photo and returns its
// attachment id.
func (c *VKClient) PhotosSaveMessagesPhoto(ctx context.Context, upload gjson.Result) (string, error) {
	r, err := c.Call(ctx, "photos.saveMessagesPhoto", url.Values{
		"server": {upload.Get("server").String()},
		"photo":  {upload.Get("photo").String()},
		"hash":   {upload.Get("hash").String()},
	})
	if err != nil {
		return "", err
	}
	photo := r.Get("0")
	if !photo.Exists() {
		return "", fmt.Errorf("vk photos.saveMessagesPhoto: photo missing")
	}
	return fmt.Sprintf("photo%d_%d", photo.Get("owner_id").Int(), photo.Get("id").Int()), nil
}

// Upload posts a single file part to an upload server.
func (c *VKClient) Upload(ctx context.Context, uploadURL, field, fileName string, file content.Embeddable) (gjson.Result, error) {
	if uploadURL == "" {
		return gjson.Result{}, fmt.Errorf("vk upload: empty upload url")
	}
	body := (&content.MultipartBuilder{}).AddFile(field, fileName, file).Build()

	resp, err := c.http.Post(ctx, uploadURL, body).Await(ctx)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("vk upload: %w", err)
	}
	data, err := resp.ReadSuccess()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("vk upload: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("vk upload: malformed response")
	}

	result := gjson.ParseBytes(data)
	if e := result.Get("error"); e.Exists() {
		return gjson.Result{}, &VKError{Method: "upload", Message: e.String()}
	}
	return result, nil
}
