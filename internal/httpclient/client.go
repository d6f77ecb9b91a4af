// Package httpclient sends content.Content bodies over HTTP.
//
// Requests are asynchronous: every call returns a Future that resolves once
// response headers arrive. Two interchangeable clients exist. PoolClient runs
// each request on a bounded goroutine pool over net/http. FastClient hands
// bodies to fasthttp as native body streams. Neither retries; that is left to
// the caller.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/keepmind9/chatlink/internal/content"
)

// ErrNotStarted is returned for requests issued before Start or after Stop.
var ErrNotStarted = errors.New("http client not started")

// Client issues HTTP requests with content bodies.
type Client interface {
	// Start acquires the client's resources. Calling it twice is a no-op.
	Start() error
	// Stop refuses new requests, waits for in-flight ones and releases
	// resources. Calling it twice is a no-op.
	Stop() error

	Get(ctx context.Context, url string) *Future
	Delete(ctx context.Context, url string) *Future
	Post(ctx context.Context, url string, body content.Content) *Future
	Put(ctx context.Context, url string, body content.Content) *Future
	Patch(ctx context.Context, url string, body content.Content) *Future
}

// Response is an HTTP response whose body has not been read yet.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// ReadAll reads and closes the body.
func (r *Response) ReadAll() ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// StatusError describes a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("unexpected http status %d: %s", e.Status, body)
}

// ReadSuccess reads the body and returns a *StatusError for non-2xx statuses.
func (r *Response) ReadSuccess() ([]byte, error) {
	data, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if !r.IsSuccess() {
		return data, &StatusError{Status: r.Status, Body: string(data)}
	}
	return data, nil
}

// Future is the pending result of a request.
type Future struct {
	done chan struct{}
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed returns an already resolved future carrying err.
func Failed(err error) *Future {
	f := newFuture()
	f.complete(nil, err)
	return f
}

// Completed returns an already resolved future carrying resp.
func Completed(resp *Response) *Future {
	f := newFuture()
	f.complete(resp, nil)
	return f
}

func (f *Future) complete(resp *Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedactURL keeps scheme and host only. Bot API paths carry tokens.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	return u.Scheme + "://" + u.Host + "/..."
}

func requestError(method, rawURL string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = RedactURL(uerr.URL)
	}
	return fmt.Errorf("%s %s: %w", method, RedactURL(rawURL), err)
}
