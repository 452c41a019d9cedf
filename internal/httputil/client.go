// Package httputil holds the HTTP plumbing shared by the diagnostics API and
// the remote tracker source: JSON response helpers and a client abstraction
// with a scripted mock for tests.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxJSONBody bounds a decoded response body.
const maxJSONBody = 1 << 20

// HTTPClient is satisfied by *http.Client and by MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned by GetJSON for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// GetJSON issues a GET bound to ctx and decodes a JSON body into v. A 204
// response leaves v untouched and reports found=false.
func GetJSON(ctx context.Context, c HTTPClient, url string, v any) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", url, err)
	}
	return true, nil
}

// MockHTTPClient answers from a scripted queue of replies and records every
// request. Once the queue is empty it answers 204 No Content, which remote
// trackers use to mean "no subject in view".
type MockHTTPClient struct {
	mu       sync.Mutex
	replies  []func(*http.Request) (*http.Response, error)
	Requests []*http.Request
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a reply with the given status and body.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	return m.enqueue(func(req *http.Request) (*http.Response, error) {
		return cannedResponse(req, statusCode, body), nil
	})
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	return m.enqueue(func(*http.Request) (*http.Response, error) { return nil, err })
}

// AddHandler queues a reply computed from the request.
func (m *MockHTTPClient) AddHandler(f func(*http.Request) (*http.Response, error)) *MockHTTPClient {
	return m.enqueue(f)
}

func (m *MockHTTPClient) enqueue(f func(*http.Request) (*http.Response, error)) *MockHTTPClient {
	m.mu.Lock()
	m.replies = append(m.replies, f)
	m.mu.Unlock()
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	var next func(*http.Request) (*http.Response, error)
	if len(m.replies) > 0 {
		next, m.replies = m.replies[0], m.replies[1:]
	}
	m.mu.Unlock()

	if next == nil {
		return cannedResponse(req, http.StatusNoContent, ""), nil
	}
	return next(req)
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func cannedResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}
