// Package testutil provides canned workflows and a deterministic HTTP
// stub for engine tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smilemakc/dagrun/pkg/httpclient"
)

// StubResponse scripts one answer of the HTTP stub.
type StubResponse struct {
	Status  int
	Headers map[string]string
	Body    string
	// Err, when set, is returned as a transport error instead.
	Err error
	// Delay simulates a slow endpoint.
	Delay time.Duration
}

// HTTPStub is a deterministic httpclient.Sender. Responses are matched
// by URL; a URL may script a sequence of responses consumed in order,
// with the last response repeating.
type HTTPStub struct {
	mu        sync.Mutex
	responses map[string][]StubResponse
	calls     []httpclient.Request
}

// NewHTTPStub creates an empty stub.
func NewHTTPStub() *HTTPStub {
	return &HTTPStub{responses: make(map[string][]StubResponse)}
}

// On scripts responses for a URL.
func (s *HTTPStub) On(url string, responses ...StubResponse) *HTTPStub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[url] = append(s.responses[url], responses...)
	return s
}

// JSON scripts a single JSON 200 response for a URL.
func (s *HTTPStub) JSON(url, body string) *HTTPStub {
	return s.On(url, StubResponse{
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
}

// Calls returns the requests received so far.
func (s *HTTPStub) Calls() []httpclient.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]httpclient.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many requests hit the given URL.
func (s *HTTPStub) CallCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call.URL == url {
			n++
		}
	}
	return n
}

// Send implements httpclient.Sender.
func (s *HTTPStub) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, *req)
	queue := s.responses[req.URL]
	if len(queue) == 0 {
		s.mu.Unlock()
		return nil, &httpclient.TransportError{URL: req.URL, Err: errors.New("no stubbed response")}
	}
	next := queue[0]
	if len(queue) > 1 {
		s.responses[req.URL] = queue[1:]
	}
	s.mu.Unlock()

	if next.Delay > 0 {
		select {
		case <-time.After(next.Delay):
		case <-ctx.Done():
			return nil, &httpclient.TransportError{URL: req.URL, Err: ctx.Err()}
		}
	}
	if next.Err != nil {
		return nil, &httpclient.TransportError{URL: req.URL, Err: next.Err}
	}

	headers := next.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return &httpclient.Response{
		StatusCode: next.Status,
		Headers:    headers,
		Body:       next.Body,
	}, nil
}
