package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keepmind9/chatlink/internal/httpclient"
	"github.com/stretchr/testify/require"
)

func newTestHTTP(t *testing.T) httpclient.Client {
	t.Helper()
	c := httpclient.NewPoolClient(8, nil)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// eventRecorder collects dispatched events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(ctx context.Context, ev Event) error
}

func (r *eventRecorder) dispatch(ctx context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		return hook(ctx, ev)
	}
	return nil
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// runUntilDone runs fn in the background and returns its result once it
// finishes, failing the test after a timeout.
func runUntilDone(t *testing.T, fn func() error) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return func() error {
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("run did not finish")
			return nil
		}
	}
}
