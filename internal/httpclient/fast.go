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
	"github.com/valyala/fasthttp"
)

// FastClient sends requests through fasthttp. Bodies are given to fasthttp as
// native body streams, with multipart bodies served by the pull encoder.
//
// fasthttp does not observe contexts: a cancelled caller stops waiting
// immediately, and the underlying request ends at its deadline or ReadTimeout.
type FastClient struct {
	mu          sync.RWMutex
	maxConns    int
	readTimeout time.Duration
	client      *fasthttp.Client
	inflight    sync.WaitGroup
	running     bool
}

var _ Client = (*FastClient)(nil)

// NewFastClient creates a fasthttp backed client. readTimeout must exceed the
// longest long poll window in use.
func NewFastClient(maxConns int, readTimeout time.Duration) *FastClient {
	return &FastClient{maxConns: maxConns, readTimeout: readTimeout}
}

func (f *FastClient) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	f.client = &fasthttp.Client{
		Name:            "chatlink",
		MaxConnsPerHost: f.maxConns,
		ReadTimeout:     f.readTimeout,
	}
	f.running = true

	logger.WithFields(logrus.Fields{
		"max_conns":    f.maxConns,
		"read_timeout": f.readTimeout,
	}).Info("http-fast-client-started")
	return nil
}

func (f *FastClient) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	client := f.client
	f.mu.Unlock()

	if !waitTimeout(&f.inflight, constants.StopDrainTimeout) {
		logger.Warn("http-fast-client-stop-timed-out-waiting-for-requests")
	}
	client.CloseIdleConnections()

	logger.Info("http-fast-client-stopped")
	return nil
}

func (f *FastClient) Get(ctx context.Context, url string) *Future {
	return f.submit(ctx, http.MethodGet, url, nil)
}

func (f *FastClient) Delete(ctx context.Context, url string) *Future {
	return f.submit(ctx, http.MethodDelete, url, nil)
}

func (f *FastClient) Post(ctx context.Context, url string, body content.Content) *Future {
	return f.submit(ctx, http.MethodPost, url, body)
}

func (f *FastClient) Put(ctx context.Context, url string, body content.Content) *Future {
	return f.submit(ctx, http.MethodPut, url, body)
}

func (f *FastClient) Patch(ctx context.Context, url string, body content.Content) *Future {
	return f.submit(ctx, http.MethodPatch, url, body)
}

func (f *FastClient) submit(ctx context.Context, method, url string, body content.Content) *Future {
	f.mu.RLock()
	if !f.running {
		f.mu.RUnlock()
		return Failed(ErrNotStarted)
	}
	client := f.client
	f.inflight.Add(1)
	f.mu.RUnlock()

	fut := newFuture()
	go func() {
		defer f.inflight.Done()
		if err := ctx.Err(); err != nil {
			fut.complete(nil, err)
			return
		}
		fut.complete(f.do(ctx, client, method, url, body))
	}()
	return fut
}

func (f *FastClient) do(ctx context.Context, client *fasthttp.Client, method, url string, body content.Content) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)

	if body != nil {
		closer, err := setNativeBody(req, body)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			defer closer.Close()
		}
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = client.DoDeadline(req, resp, deadline)
	} else {
		err = client.Do(req, resp)
	}
	if err != nil {
		return nil, requestError(method, url, err)
	}

	header := make(http.Header)
	resp.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	data := append([]byte(nil), resp.Body()...)

	logger.WithFields(logrus.Fields{
		"method": method,
		"url":    RedactURL(url),
		"status": resp.StatusCode(),
	}).Debug("http-request-completed")

	return &Response{
		Status: resp.StatusCode(),
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// setNativeBody turns the content into a fasthttp body. Returned closers
// must be closed once the request is done.
func setNativeBody(req *fasthttp.Request, body content.Content) (io.Closer, error) {
	if ct := body.ContentType(); ct != "" {
		req.Header.SetContentType(ct)
	}

	switch c := body.(type) {
	case *content.Bytes:
		req.SetBodyRaw(c.Data())
		return nil, nil

	case *content.File:
		rc, err := c.Open()
		if err != nil {
			return nil, err
		}
		req.SetBodyStream(rc, nativeLength(c.Size()))
		return rc, nil

	case *content.Stream:
		rc, err := c.Open()
		if err != nil {
			return nil, err
		}
		req.SetBodyStream(rc, nativeLength(c.Size()))
		return rc, nil

	case *content.Multipart:
		rc, err := c.Open()
		if err != nil {
			return nil, err
		}
		req.SetBodyStream(rc, -1)
		return rc, nil

	default:
		return nil, fmt.Errorf("unsupported content type %T", body)
	}
}

func nativeLength(size int64) int {
	if size < 0 {
		return -1
	}
	return int(size)
}
