package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/keepmind9/chatlink/internal/content"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// PoolClient runs every request on its own goroutine over net/http, with at
// most size requests waiting for headers at once. A size of 0 means no bound.
type PoolClient struct {
	mu       sync.RWMutex
	size     int64
	base     *http.Client
	client   *http.Client
	sem      *semaphore.Weighted
	inflight sync.WaitGroup
	running  bool
}

var _ Client = (*PoolClient)(nil)

// NewPoolClient creates a pool client. A nil base uses a fresh http.Client
// without a global timeout, since long polls set their own deadlines.
func NewPoolClient(size int, base *http.Client) *PoolClient {
	if size < 0 {
		size = 0
	}
	return &PoolClient{size: int64(size), base: base}
}

func (p *PoolClient) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.client = p.base
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.size > 0 {
		p.sem = semaphore.NewWeighted(p.size)
	}
	p.running = true

	logger.WithField("pool_size", p.size).Info("http-pool-client-started")
	return nil
}

func (p *PoolClient) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	client := p.client
	p.mu.Unlock()

	if !waitTimeout(&p.inflight, constants.StopDrainTimeout) {
		logger.Warn("http-pool-client-stop-timed-out-waiting-for-requests")
	}
	client.CloseIdleConnections()

	logger.Info("http-pool-client-stopped")
	return nil
}

func (p *PoolClient) Get(ctx context.Context, url string) *Future {
	return p.submit(ctx, http.MethodGet, url, nil)
}

func (p *PoolClient) Delete(ctx context.Context, url string) *Future {
	return p.submit(ctx, http.MethodDelete, url, nil)
}

func (p *PoolClient) Post(ctx context.Context, url string, body content.Content) *Future {
	return p.submit(ctx, http.MethodPost, url, body)
}

func (p *PoolClient) Put(ctx context.Context, url string, body content.Content) *Future {
	return p.submit(ctx, http.MethodPut, url, body)
}

func (p *PoolClient) Patch(ctx context.Context, url string, body content.Content) *Future {
	return p.submit(ctx, http.MethodPatch, url, body)
}

func (p *PoolClient) submit(ctx context.Context, method, url string, body content.Content) *Future {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return Failed(ErrNotStarted)
	}
	client, sem := p.client, p.sem
	p.inflight.Add(1)
	p.mu.RUnlock()

	f := newFuture()
	go func() {
		defer p.inflight.Done()
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				f.complete(nil, err)
				return
			}
			defer sem.Release(1)
		}
		f.complete(p.do(ctx, client, method, url, body))
	}()
	return f
}

func (p *PoolClient) do(ctx context.Context, client *http.Client, method, url string, body content.Content) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, requestError(method, url, err)
	}
	if body != nil {
		if err := attachBody(req, body); err != nil {
			return nil, err
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, requestError(method, url, err)
	}

	logger.WithFields(logrus.Fields{
		"method": method,
		"url":    RedactURL(url),
		"status": resp.StatusCode,
	}).Debug("http-request-completed")

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// attachBody fixes Content-Length for sized bodies and falls back to chunked
// transfer for unknown sizes. Multipart is pushed through a pipe.
func attachBody(req *http.Request, body content.Content) error {
	if ct := body.ContentType(); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	switch c := body.(type) {
	case *content.Bytes:
		data := c.Data()
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.ContentLength = int64(len(data))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}

	case *content.File:
		rc, err := c.Open()
		if err != nil {
			return err
		}
		req.Body = rc
		req.ContentLength = streamingLength(c.Size())

	case *content.Stream:
		rc, err := c.Open()
		if err != nil {
			return err
		}
		req.Body = rc
		req.ContentLength = streamingLength(c.Size())

	case *content.Multipart:
		pr, pw := io.Pipe()
		go func() {
			_, err := c.WriteTo(pw)
			pw.CloseWithError(err)
		}()
		req.Body = pr
		req.ContentLength = -1

	default:
		return fmt.Errorf("unsupported content type %T", body)
	}
	return nil
}

func streamingLength(size int64) int64 {
	if size > 0 {
		return size
	}
	return -1
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
