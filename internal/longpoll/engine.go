// Package longpoll runs a platform's long-poll source until cancelled.
//
// The engine owns the retry loop and the backoff state. Sources own the
// cursor: each PollOnce performs one round trip, advances the cursor and
// emits the decoded events in order.
package longpoll

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/sirupsen/logrus"
)

// ErrInitialize marks a failed first handshake. It is never retried.
var ErrInitialize = errors.New("long-poll initialization failed")

// State is the engine's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StatePolling
	StateBackoff
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source is one platform's cursor protocol.
type Source[T any] interface {
	// Initialize performs the first handshake.
	Initialize(ctx context.Context) error
	// PollOnce performs one round trip and calls emit for each event in
	// order. The cursor must be advanced past every emitted event even
	// when emit's handler fails.
	PollOnce(ctx context.Context, emit func(T)) error
}

// Handler consumes one event. Errors and panics are logged and dropped.
type Handler[T any] func(ctx context.Context, event T) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine drives a Source until its context is cancelled.
type Engine[T any] struct {
	name    string
	source  Source[T]
	handler Handler[T]
	backoff Backoff
	sleep   SleepFunc
	state   atomic.Int32
	log     *logrus.Entry
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	backoff Backoff
	sleep   SleepFunc
}

// WithBackoff overrides the default backoff.
func WithBackoff(b Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// NewEngine creates an engine for the named platform.
func NewEngine[T any](name string, source Source[T], handler Handler[T], opts ...Option) *Engine[T] {
	o := options{backoff: DefaultBackoff(), sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[T]{
		name:    name,
		source:  source,
		handler: handler,
		backoff: o.backoff.withDefaults(),
		sleep:   o.sleep,
		log:     logger.ForPlatform(name),
	}
}

// State reports the current lifecycle state.
func (e *Engine[T]) State() State {
	return State(e.state.Load())
}

func (e *Engine[T]) setState(s State) {
	e.state.Store(int32(s))
}

// Run blocks until ctx is cancelled, returning nil in that case. It only
// returns an error when Initialize fails.
func (e *Engine[T]) Run(ctx context.Context) error {
	e.setState(StateStarting)
	e.log.Info("long-poll-starting")

	if err := e.source.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			e.cancelled()
			return nil
		}
		e.setState(StateCancelled)
		e.log.WithField("error", err).Error("long-poll-initialization-failed")
		return fmt.Errorf("%w: %s: %w", ErrInitialize, e.name, err)
	}

	emit := func(event T) { e.dispatch(ctx, event) }

	for {
		if ctx.Err() != nil {
			e.cancelled()
			return nil
		}

		e.setState(StatePolling)
		err := e.source.PollOnce(ctx, emit)
		if err == nil {
			e.backoff.Reset()
			continue
		}
		if ctx.Err() != nil {
			e.cancelled()
			return nil
		}

		delay := e.backoff.Next()
		e.setState(StateBackoff)
		e.log.WithFields(logrus.Fields{
			"error": err,
			"delay": delay,
		}).Warn("long-poll-failed-retrying")

		if err := e.sleep(ctx, delay); err != nil {
			e.cancelled()
			return nil
		}
	}
}

func (e *Engine[T]) cancelled() {
	e.setState(StateCancelled)
	e.log.Info("long-poll-cancelled")
}

// dispatch isolates a single handler call from the rest of the batch.
func (e *Engine[T]) dispatch(ctx context.Context, event T) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("long-poll-handler-panicked")
		}
	}()

	if err := e.handler(ctx, event); err != nil {
		e.log.WithField("error", err).Warn("long-poll-handler-failed")
	}
}

// Sleep waits for d unless ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
