package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/sirupsen/logrus"
)

// Handler consumes one inbound event. platform is the platform the event
// came from and can be used to reply.
type Handler func(ctx context.Context, platform bot.Platform, event bot.Event) error

// Authorizer decides whether a sender may reach the handlers.
type Authorizer interface {
	IsUserAuthorized(platform, userID string) bool
}

type namedHandler struct {
	name string
	fn   Handler
}

// Dispatcher fans inbound events out to every registered handler. Handler
// errors and panics are logged and never reach the platform worker, so one
// failing handler cannot stall the cursor or starve the others.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []namedHandler
	auth     Authorizer
}

// NewDispatcher creates a dispatcher. A nil auth admits every sender.
func NewDispatcher(auth Authorizer) *Dispatcher {
	return &Dispatcher{auth: auth}
}

// Use appends a handler. Handlers run in registration order.
func (d *Dispatcher) Use(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, namedHandler{name: name, fn: h})
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch delivers event to every handler.
func (d *Dispatcher) Dispatch(ctx context.Context, platform bot.Platform, event bot.Event) {
	sender := senderID(event)
	if d.auth != nil && !d.auth.IsUserAuthorized(event.Source(), sender) {
		logger.WithFields(logrus.Fields{
			"platform": event.Source(),
			"user_id":  sender,
		}).Warn("unauthorized-access-attempt")
		return
	}

	d.mu.RLock()
	handlers := append([]namedHandler(nil), d.handlers...)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := d.invoke(ctx, h, platform, event); err != nil {
			logger.WithFields(logrus.Fields{
				"platform": event.Source(),
				"handler":  h.name,
				"error":    err,
			}).Error("event-handler-failed")
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h namedHandler, platform bot.Platform, event bot.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.fn(ctx, platform, event)
}

// For binds the dispatcher to one platform as its bot.Dispatch.
func (d *Dispatcher) For(platform bot.Platform) bot.Dispatch {
	return func(ctx context.Context, event bot.Event) error {
		d.Dispatch(ctx, platform, event)
		return nil
	}
}

func senderID(event bot.Event) string {
	switch ev := event.(type) {
	case *bot.Message:
		return ev.From.ID
	case *bot.KeyboardCallback:
		return ev.From.ID
	default:
		return ""
	}
}
