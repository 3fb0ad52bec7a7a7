// Package httpclient is the HTTP collaborator of the engine. It
// separates transport failures (retryable) from received HTTP
// responses, which are reported to the caller regardless of status
// code.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request describes a single HTTP call.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	Timeout   time.Duration // zero means no per-request deadline
	VerifySSL bool
}

// Response is a received HTTP response. Any status code counts as a
// successful send.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	DurationMs int64
}

// TransportError reports a network, DNS or connect failure: no HTTP
// response was received.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Sender sends HTTP requests. Implemented by Client and by test stubs.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Client is the production Sender backed by net/http. A zero
// MaxBodyBytes means the 10 MiB default.
type Client struct {
	MaxBodyBytes int64

	secure   *http.Client
	insecure *http.Client
}

const defaultMaxBodyBytes = 10 << 20

// New creates a Client with pooled transports.
func New() *Client {
	return &Client{
		secure:   &http.Client{Transport: newTransport(false)},
		insecure: &http.Client{Transport: newTransport(true)},
	}
}

func newTransport(skipVerify bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if skipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// Send performs the request. The context carries cancellation from the
// engine; req.Timeout adds a per-request deadline on top.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := c.secure
	if !req.VerifySSL {
		client = c.insecure
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: fmt.Errorf("reading body: %w", err)}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(data),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
