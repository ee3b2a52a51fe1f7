// Package headless contains fetcher sessions that execute JavaScript via a
// headless browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/adquify/catalog-harvester/internal/fetcher"
)

// Config controls the behavior of the headless browser.
type Config struct {
	// MaxParallel bounds concurrently open tabs; zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Login fills Fields (CSS selector -> value) on URL and clicks Submit when
	// a session opens.
	Login *fetcher.LoginForm
}

// Browser owns one Chrome process for the lifetime of a run. Each session is
// a tab in its own browser context, so cookies never leak across sessions.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	browser     context.Context
	browserStop context.CancelFunc
	startOnce   sync.Once
	startErr    error
}

// NewChromedp prepares a headless browser; Chrome starts on the first Open.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		browser:     browserCtx,
		browserStop: browserStop,
	}, nil
}

// Close shuts the browser down. Sessions opened afterwards fail.
func (b *Browser) Close() {
	b.browserStop()
	b.allocCancel()
}

func (b *Browser) start() error {
	b.startOnce.Do(func() {
		if err := chromedp.Run(b.browser); err != nil {
			b.startErr = fmt.Errorf("start chrome: %w", err)
		}
	})
	return b.startErr
}

// Open creates a tab in a fresh browser context and performs the configured login.
func (b *Browser) Open(ctx context.Context) (fetcher.Session, error) {
	if err := b.start(); err != nil {
		return nil, err
	}
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browser, chromedp.WithNewBrowserContext())
	s := &Session{browser: b, ctx: tabCtx, cancel: tabCancel}
	if b.cfg.Login != nil {
		if err := s.login(ctx, *b.cfg.Login); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Session is one browser tab.
type Session struct {
	browser   *Browser
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Close closes the tab and frees its slot.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.browser.release()
	})
}

func (s *Session) login(ctx context.Context, form fetcher.LoginForm) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(form.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	for selector, value := range form.Fields {
		actions = append(actions, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	}
	if form.Submit != "" {
		actions = append(actions,
			chromedp.Click(form.Submit, chromedp.ByQuery),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("headless login %s: %w", form.URL, err)
	}
	return nil
}

// bind derives a navigation context from the tab that also stops when ctx does.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, s.browser.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Do navigates to req.URL and returns the rendered DOM. Only GET is supported.
func (s *Session) Do(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return fetcher.Page{}, errors.New("headless sessions only support GET")
	}
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		s.networkSetupAction(req.Header),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fetcher.Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	page := fetcher.Page{
		URL:        responseURL,
		StatusCode: status,
		Header:     headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Headless:   true,
	}
	if status >= http.StatusBadRequest {
		return page, &fetcher.StatusError{URL: req.URL, StatusCode: status}
	}
	return page, nil
}

func (s *Session) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := s.browser.cfg.UserAgent; ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

var _ fetcher.Opener = (*Browser)(nil)
