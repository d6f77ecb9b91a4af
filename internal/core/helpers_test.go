package core

import (
	"context"
	"errors"
	"sync"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/content"
	"github.com/keepmind9/chatlink/internal/httpclient"
)

// mockPlatform is a hand-written bot.Platform. Run emits the scripted events
// and then blocks until ctx is cancelled, or returns runErr immediately.
type mockPlatform struct {
	name   string
	events []bot.Event
	runErr error
	panics bool

	mu       sync.Mutex
	started  chan struct{}
	stopped  bool
	sent     []bot.OutMessage
	answered []string
	sendErr  error
}

func newMockPlatform(name string, events ...bot.Event) *mockPlatform {
	return &mockPlatform{name: name, events: events, started: make(chan struct{})}
}

func (m *mockPlatform) Name() string { return m.name }

func (m *mockPlatform) Identity() *bot.Identity {
	return &bot.Identity{ID: "bot-" + m.name, Name: m.name + " bot", IsBot: true}
}

func (m *mockPlatform) Run(ctx context.Context, dispatch bot.Dispatch) error {
	close(m.started)
	if m.panics {
		panic("platform exploded")
	}
	if m.runErr != nil {
		return m.runErr
	}
	for _, ev := range m.events {
		_ = dispatch(ctx, ev)
	}
	<-ctx.Done()
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return ctx.Err()
}

func (m *mockPlatform) SendMessage(_ context.Context, out bot.OutMessage) (*bot.SentMessage, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, out)
	return &bot.SentMessage{Platform: m.name, ChatID: out.ChatID, MessageID: "sent-1"}, nil
}

func (m *mockPlatform) EditText(context.Context, *bot.SentMessage, string) error { return nil }

func (m *mockPlatform) AnswerCallback(_ context.Context, cb *bot.KeyboardCallback, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, cb.ID+":"+text)
	return nil
}

func (m *mockPlatform) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *mockPlatform) sentMessages() []bot.OutMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bot.OutMessage(nil), m.sent...)
}

// mockTransport records lifecycle calls; requests fail.
type mockTransport struct {
	mu     sync.Mutex
	starts int
	stops  int
	onStop func()
}

func (t *mockTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	return nil
}

func (t *mockTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	if t.onStop != nil {
		t.onStop()
	}
	return nil
}

func (t *mockTransport) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts, t.stops
}

var errNoNetwork = errors.New("no network in tests")

func (t *mockTransport) Get(context.Context, string) *httpclient.Future {
	return httpclient.Failed(errNoNetwork)
}

func (t *mockTransport) Delete(context.Context, string) *httpclient.Future {
	return httpclient.Failed(errNoNetwork)
}

func (t *mockTransport) Post(context.Context, string, content.Content) *httpclient.Future {
	return httpclient.Failed(errNoNetwork)
}

func (t *mockTransport) Put(context.Context, string, content.Content) *httpclient.Future {
	return httpclient.Failed(errNoNetwork)
}

func (t *mockTransport) Patch(context.Context, string, content.Content) *httpclient.Future {
	return httpclient.Failed(errNoNetwork)
}

func message(platform, from, text string) *bot.Message {
	return &bot.Message{Platform: platform, ID: "m-" + text, ChatID: "chat-1", From: bot.Identity{ID: from}, Text: text}
}
