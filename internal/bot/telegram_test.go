package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/keepmind9/chatlink/internal/content"
	"github.com/keepmind9/chatlink/internal/longpoll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTelegramToken = "123456:test-token-value"

// fakeTelegram serves /bot<token>/<method> with per-method handlers.
type fakeTelegram struct {
	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	calls    []string
}

func newFakeTelegram(t *testing.T) (*fakeTelegram, *httptest.Server) {
	f := &fakeTelegram{handlers: map[string]func(http.ResponseWriter, *http.Request){}}
	f.on("getMe", func(w http.ResponseWriter, r *http.Request) {
		writeTelegramOK(w, `{"id":42,"is_bot":true,"first_name":"Link","username":"link_bot"}`)
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testTelegramToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)

		f.mu.Lock()
		f.calls = append(f.calls, method)
		h := f.handlers[method]
		f.mu.Unlock()

		if h == nil {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTelegram) on(method string, h func(http.ResponseWriter, *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeTelegram) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func writeTelegramOK(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func decodeJSONBody(t *testing.T, r *http.Request) map[string]any {
	var params map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
	return params
}

func newTestTelegramBot(t *testing.T, srv *httptest.Server) *TelegramBot {
	return NewTelegramBot(testTelegramToken, newTestHTTP(t),
		WithTelegramAPIURL(srv.URL),
		WithTelegramBackoff(longpoll.Backoff{Min: 1, Max: 1, Factor: 1}),
	)
}

func TestTelegramBot_OffsetAdvancesPastFailingHandlers(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		offsets []any
	)
	fake.on("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		params := decodeJSONBody(t, r)
		mu.Lock()
		offsets = append(offsets, params["offset"])
		n := len(offsets)
		mu.Unlock()

		assert.Equal(t, float64(90), params["timeout"])
		if n == 1 {
			writeTelegramOK(w, `[
				{"update_id":5,"message":{"message_id":1,"date":1700000000,"chat":{"id":100,"type":"private"},"from":{"id":7,"first_name":"Ann"},"text":"a"}},
				{"update_id":6,"message":{"message_id":2,"date":1700000000,"chat":{"id":100,"type":"private"},"from":{"id":7,"first_name":"Ann"},"text":"b"}},
				{"update_id":7,"message":{"message_id":3,"date":1700000000,"chat":{"id":100,"type":"private"},"from":{"id":7,"first_name":"Ann"},"text":"c"}}
			]`)
			return
		}
		cancel()
		writeTelegramOK(w, `[]`)
	})

	rec := &eventRecorder{hook: func(_ context.Context, ev Event) error {
		switch ev.(*Message).Text {
		case "a":
			return fmt.Errorf("handler failed")
		case "b":
			panic("handler exploded")
		}
		return nil
	}}

	tg := newTestTelegramBot(t, srv)
	wait := runUntilDone(t, func() error { return tg.Run(ctx, rec.dispatch) })
	require.NoError(t, wait())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, offsets, 2)
	assert.Nil(t, offsets[0], "offset is omitted while zero")
	assert.Equal(t, float64(8), offsets[1])

	events := rec.snapshot()
	require.Len(t, events, 3)
	msg := events[2].(*Message)
	assert.Equal(t, "100", msg.ChatID)
	assert.Equal(t, "7", msg.From.ID)
	assert.Equal(t, "Ann", msg.From.Name)
	assert.Equal(t, "3", msg.ID)

	require.NotNil(t, tg.Identity())
	assert.Equal(t, "link_bot", tg.Identity().Username)
}

func TestTelegramBot_CallbackQuery(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls atomic.Int32
	fake.on("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			writeTelegramOK(w, `[{"update_id":1,"callback_query":{"id":"cbq-1","from":{"id":7,"first_name":"Ann"},
				"message":{"message_id":55,"date":1,"chat":{"id":100,"type":"private"}},"data":"vote:yes"}}]`)
			return
		}
		cancel()
		writeTelegramOK(w, `[]`)
	})
	var answered map[string]any
	fake.on("answerCallbackQuery", func(w http.ResponseWriter, r *http.Request) {
		answered = decodeJSONBody(t, r)
		writeTelegramOK(w, `true`)
	})

	tg := newTestTelegramBot(t, srv)
	rec := &eventRecorder{hook: func(ctx context.Context, ev Event) error {
		return tg.AnswerCallback(ctx, ev.(*KeyboardCallback), "thanks")
	}}
	wait := runUntilDone(t, func() error { return tg.Run(ctx, rec.dispatch) })
	require.NoError(t, wait())

	events := rec.snapshot()
	require.Len(t, events, 1)
	cb := events[0].(*KeyboardCallback)
	assert.Equal(t, "cbq-1", cb.ID)
	assert.Equal(t, "100", cb.ChatID)
	assert.Equal(t, "55", cb.MessageID)
	assert.Equal(t, "vote:yes", cb.Data)
	assert.True(t, cb.Answered())
	assert.Equal(t, "cbq-1", answered["callback_query_id"])
	assert.Equal(t, "thanks", answered["text"])
}

func TestTelegramBot_InitializeFailure(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	fake.on("getMe", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	})

	tg := newTestTelegramBot(t, srv)
	err := tg.Run(context.Background(), (&eventRecorder{}).dispatch)

	require.Error(t, err)
	assert.ErrorIs(t, err, longpoll.ErrInitialize)
	assert.ErrorIs(t, err, ErrTelegramAPI)

	var apiErr *TelegramError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Code)
	assert.Equal(t, 0, fake.callCount("getUpdates"))
	assert.Nil(t, tg.Identity())
}

func TestTelegramBot_SendMessage(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	var sent map[string]any
	fake.on("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		sent = decodeJSONBody(t, r)
		writeTelegramOK(w, `{"message_id":501,"date":1,"chat":{"id":100,"type":"private"}}`)
	})
	var edited map[string]any
	fake.on("editMessageText", func(w http.ResponseWriter, r *http.Request) {
		edited = decodeJSONBody(t, r)
		writeTelegramOK(w, `true`)
	})

	tg := newTestTelegramBot(t, srv)
	ctx := context.Background()

	msg, err := tg.SendMessage(ctx, OutMessage{ChatID: "100", Text: "hello", ReplyTo: "12"})
	require.NoError(t, err)
	assert.Equal(t, "501", msg.MessageID)
	assert.False(t, msg.HasAttachment)
	assert.Equal(t, float64(100), sent["chat_id"])
	assert.Equal(t, "hello", sent["text"])
	assert.Equal(t, float64(12), sent["reply_to_message_id"])

	require.NoError(t, tg.EditText(ctx, msg, "updated"))
	assert.Equal(t, float64(501), edited["message_id"])
	assert.Equal(t, "updated", edited["text"])
}

func TestTelegramBot_SendDocument(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	fake.on("sendDocument", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "@channel", r.FormValue("chat_id"))
		assert.Equal(t, "report", r.FormValue("caption"))

		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "report.csv", header.Filename)
		assert.Equal(t, "a,b\n1,2\n", string(data))

		writeTelegramOK(w, `{"message_id":9,"date":1,"chat":{"id":-100,"type":"channel"}}`)
	})
	var caption map[string]any
	fake.on("editMessageCaption", func(w http.ResponseWriter, r *http.Request) {
		caption = decodeJSONBody(t, r)
		writeTelegramOK(w, `true`)
	})

	tg := newTestTelegramBot(t, srv)
	ctx := context.Background()

	msg, err := tg.SendMessage(ctx, OutMessage{
		ChatID: "@channel",
		Text:   "report",
		Attachment: &Attachment{
			Type:     AttachmentDocument,
			FileName: "report.csv",
			Content:  content.NewString("text/csv", "a,b\n1,2\n"),
		},
	})
	require.NoError(t, err)
	assert.True(t, msg.HasAttachment)

	require.NoError(t, tg.EditText(ctx, msg, "new caption"))
	assert.Equal(t, "@channel", caption["chat_id"])
	assert.Equal(t, "new caption", caption["caption"])
}

func TestTelegramBot_SendMessageErrors(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	fake.on("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	})
	tg := newTestTelegramBot(t, srv)
	ctx := context.Background()

	_, err := tg.SendMessage(ctx, OutMessage{ChatID: "1", Text: "x"})
	assert.ErrorIs(t, err, ErrTelegramAPI)
	assert.Contains(t, err.Error(), "chat not found")

	_, err = tg.SendMessage(ctx, OutMessage{Text: "x"})
	assert.Error(t, err)

	_, err = tg.SendMessage(ctx, OutMessage{ChatID: "1", Attachment: &Attachment{Type: "video", Content: content.NewString("", "")}})
	assert.ErrorIs(t, err, ErrUnsupportedAttachment)
}

func TestTelegramBot_AnswerCallbackTooLong(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	tg := newTestTelegramBot(t, srv)

	err := tg.AnswerCallback(context.Background(), &KeyboardCallback{ID: "x"}, strings.Repeat("я", 201))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
	assert.Equal(t, 0, fake.callCount("answerCallbackQuery"))
}

func TestTelegramBot_FileURL(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	fake.on("getFile", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file-1", decodeJSONBody(t, r)["file_id"])
		writeTelegramOK(w, `{"file_id":"file-1","file_path":"photos/file_1.jpg"}`)
	})
	tg := newTestTelegramBot(t, srv)

	link, err := tg.FileURL(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/file/bot"+testTelegramToken+"/photos/file_1.jpg", link)
}

func TestTelegramChatID_MarshalJSON(t *testing.T) {
	numeric, err := json.Marshal(telegramChatID("-100123"))
	require.NoError(t, err)
	assert.Equal(t, "-100123", string(numeric))

	named, err := json.Marshal(telegramChatID("@news"))
	require.NoError(t, err)
	assert.Equal(t, `"@news"`, string(named))
}
