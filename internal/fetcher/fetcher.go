// Package fetcher defines the page-loading contract shared by the HTTP and
// headless browser backends used by source adapters.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request describes one page or API call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Page is a loaded response.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Session is an isolated browsing context with its own cookies. Sessions are
// opened per adapter invocation and never shared between workers.
type Session interface {
	Do(ctx context.Context, req Request) (Page, error)
	Close()
}

// Opener creates sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// LoginForm describes a credential form submitted when a session opens.
type LoginForm struct {
	URL string
	// Fields maps form field names to values.
	Fields map[string]string
	// Submit is the CSS selector of the submit button (headless only).
	Submit string
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether retrying the same request could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
