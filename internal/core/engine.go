package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/httpclient"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/sirupsen/logrus"
)

// ErrPlatformNotEnabled is returned by Engine.Platform for unknown platforms.
var ErrPlatformNotEnabled = errors.New("platform not enabled")

// Engine runs one long-lived worker per registered platform over a shared
// HTTP transport and routes their events through the dispatcher.
type Engine struct {
	config     *Config
	transport  httpclient.Client
	dispatcher *Dispatcher

	mu        sync.Mutex
	platforms map[string]bot.Platform
	running   bool
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	done      chan struct{}
}

// NewEngine creates a new Engine over transport. Platforms are added with
// RegisterPlatform or RegisterConfiguredPlatforms.
func NewEngine(config *Config, transport httpclient.Client) *Engine {
	return &Engine{
		config:     config,
		transport:  transport,
		dispatcher: NewDispatcher(config),
		platforms:  make(map[string]bot.Platform),
	}
}

// NewTransport builds the HTTP transport selected in config.
func NewTransport(config *Config) httpclient.Client {
	timeout := config.RequestTimeout()
	if config.HTTP.Transport == TransportFast {
		return httpclient.NewFastClient(config.HTTP.PoolSize, timeout)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.MaxConnsPerHost = config.HTTP.PoolSize
	return httpclient.NewPoolClient(config.HTTP.PoolSize, &http.Client{Transport: transport})
}

// Dispatcher returns the event dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Transport returns the shared HTTP transport.
func (e *Engine) Transport() httpclient.Client { return e.transport }

// RegisterPlatform registers a platform under its name
func (e *Engine) RegisterPlatform(p bot.Platform) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.platforms[p.Name()] = p
}

// RegisterConfiguredPlatforms creates and registers every enabled bot.
func (e *Engine) RegisterConfiguredPlatforms() error {
	for _, name := range e.config.EnabledBots() {
		p, err := e.newPlatform(name)
		if err != nil {
			return err
		}
		e.RegisterPlatform(p)
	}
	return nil
}

func (e *Engine) newPlatform(name string) (bot.Platform, error) {
	cfg, err := e.config.GetBotConfig(name)
	if err != nil {
		return nil, err
	}
	backoff := e.config.Backoff()

	switch name {
	case bot.PlatformTelegram:
		opts := []bot.TelegramOption{bot.WithTelegramBackoff(backoff)}
		if cfg.APIURL != "" {
			opts = append(opts, bot.WithTelegramAPIURL(cfg.APIURL))
		}
		return bot.NewTelegramBot(cfg.Token, e.transport, opts...), nil
	case bot.PlatformVK:
		opts := []bot.VKOption{bot.WithVKBackoff(backoff)}
		if cfg.APIURL != "" {
			opts = append(opts, bot.WithVKAPIURL(cfg.APIURL))
		}
		if cfg.DocumentOwnerID != 0 {
			opts = append(opts, bot.WithVKDocumentOwner(cfg.DocumentOwnerID))
		}
		return bot.NewVKBot(cfg.Token, cfg.GroupID, e.transport, opts...), nil
	case bot.PlatformDiscord:
		return bot.NewDiscordBot(cfg.Token, cfg.ChannelID), nil
	default:
		return nil, fmt.Errorf("%w: unsupported bot %q", ErrInvalidConfig, name)
	}
}

// Platform returns a registered platform by name.
func (e *Engine) Platform(name string) (bot.Platform, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.platforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotEnabled, name)
	}
	return p, nil
}

// Platforms returns the registered platform names in sorted order.
func (e *Engine) Platforms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.platforms))
	for name := range e.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts the transport and one worker per platform. Calling Start on a
// running engine does nothing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	logger.WithField("platforms", len(e.platforms)).Info("starting-chatlink-engine")

	if err := e.transport.Start(); err != nil {
		return fmt.Errorf("failed to start http transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	for name, p := range e.platforms {
		e.workers.Add(1)
		go e.runPlatform(runCtx, name, p)
	}

	done := e.done
	go func() {
		e.workers.Wait()
		close(done)
	}()
	return nil
}

// runPlatform owns one platform until ctx is cancelled. A platform that
// fails to initialize stops alone; the others keep running.
func (e *Engine) runPlatform(ctx context.Context, name string, p bot.Platform) {
	defer e.workers.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"platform": name,
				"panic":    r,
			}).Error("platform-worker-panic-recovered")
		}
	}()

	logger.WithField("platform", name).Info("platform-worker-started")
	err := p.Run(ctx, e.dispatcher.For(p))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithFields(logrus.Fields{
			"platform": name,
			"error":    err,
		}).Error("platform-worker-failed")
		return
	}
	logger.WithField("platform", name).Info("platform-worker-stopped")
}

// Done is closed once every worker of the current run has returned. It is
// nil before the first Start.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Run starts the engine and blocks until ctx is cancelled, then stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop()
}

// Stop cancels every worker, waits for them and then stops the transport.
// Stopping a stopped engine does nothing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	logger.Info("stopping-chatlink-engine")
	cancel()
	<-done

	if err := e.transport.Stop(); err != nil {
		return fmt.Errorf("failed to stop http transport: %w", err)
	}
	logger.Info("engine-stopped")
	return nil
}
