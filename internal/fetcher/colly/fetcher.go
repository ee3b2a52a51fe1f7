// Package collyfetcher implements fetcher sessions using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"io"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/adquify/catalog-harvester/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Login, when set, is posted as a form every time a session opens.
	Login *fetcher.LoginForm
}

// Fetcher opens colly-backed sessions.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the HTTP transport (tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	f := &Fetcher{cfg: cfg, transport: newHTTPTransport()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Session is a colly collector with its own cookie jar.
type Session struct {
	base *colly.Collector
}

// Open creates an isolated session and performs the configured login.
func (f *Fetcher) Open(ctx context.Context) (fetcher.Session, error) {
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.WithTransport(f.transport)
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.SetRequestTimeout(f.cfg.Timeout)

	s := &Session{base: c}
	if f.cfg.Login != nil {
		if err := s.login(ctx, *f.cfg.Login); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) login(ctx context.Context, form fetcher.LoginForm) error {
	values := url.Values{}
	for k, v := range form.Fields {
		values.Set(k, v)
	}
	_, err := s.Do(ctx, fetcher.Request{
		Method: http.MethodPost,
		URL:    form.URL,
		Body:   []byte(values.Encode()),
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
	})
	if err != nil {
		return fmt.Errorf("login %s: %w", form.URL, err)
	}
	return nil
}

// Do performs one request. Non-2xx statuses are returned as *fetcher.StatusError.
func (s *Session) Do(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var (
		page     fetcher.Page
		fetchErr error
	)
	collector := s.base.Clone()
	configureHooks(collector, time.Now(), &page, &fetchErr)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, req.URL, body, nil, req.Header.Clone())
	}()

	select {
	case <-ctx.Done():
		return fetcher.Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			err = fetchErr
		}
		if page.StatusCode >= http.StatusBadRequest {
			return page, &fetcher.StatusError{URL: req.URL, StatusCode: page.StatusCode}
		}
		if err != nil {
			return fetcher.Page{}, fmt.Errorf("colly %s %s: %w", method, req.URL, err)
		}
		return page, nil
	}
}

func configureHooks(hooks collectorHooks, start time.Time, page *fetcher.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*page = fetcher.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 && page.StatusCode == 0 {
			page.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

// Close is a no-op; the collector's idle connections belong to the shared transport.
func (s *Session) Close() {}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ fetcher.Opener = (*Fetcher)(nil)
