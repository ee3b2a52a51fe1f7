package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquify/catalog-harvester/internal/fetcher"
)

func TestSessionDoGetAndPost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		_, _ = w.Write([]byte(r.Header.Get("X-Trace") + ":" + string(body)))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "harvester-test", Timeout: time.Second})
	s, err := f.Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	page, err := s.Do(context.Background(), fetcher.Request{URL: srv.URL, Header: http.Header{"X-Trace": {"a"}}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "a:", string(page.Body))
	assert.Equal(t, http.MethodGet, page.Header.Get("X-Method"))

	page, err = s.Do(context.Background(), fetcher.Request{
		Method: http.MethodPost, URL: srv.URL, Body: []byte(`{"q":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, `:{"q":1}`, string(page.Body))
}

func TestSessionDoReportsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s, err := New(Config{}).Open(context.Background())
	require.NoError(t, err)

	_, err = s.Do(context.Background(), fetcher.Request{URL: srv.URL})
	var statusErr *fetcher.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, statusErr.Retryable())
}

func TestOpenLogsInAndKeepsCookies(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("email") != "buyer@example.com" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
	})
	mux.HandleFunc("/catalog", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(c.Value))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{Login: &fetcher.LoginForm{
		URL:    srv.URL + "/login",
		Fields: map[string]string{"email": "buyer@example.com"},
	}})
	s, err := f.Open(context.Background())
	require.NoError(t, err)

	page, err := s.Do(context.Background(), fetcher.Request{URL: srv.URL + "/catalog"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(page.Body))

	anon, err := New(Config{}).Open(context.Background())
	require.NoError(t, err)
	page, err = anon.Do(context.Background(), fetcher.Request{URL: srv.URL + "/catalog"})
	require.NoError(t, err)
	assert.Equal(t, "anonymous", string(page.Body), "sessions do not share cookies")

	bad := New(Config{Login: &fetcher.LoginForm{URL: srv.URL + "/login"}})
	_, err = bad.Open(context.Background())
	require.Error(t, err)
}

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	var (
		page     fetcher.Page
		fetchErr error
	)
	hooks := &stubHooks{}
	configureHooks(hooks, time.Unix(0, 0), &page, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, page.StatusCode)
	assert.Equal(t, "ok", page.Header.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }

func (s *stubHooks) OnError(cb colly.ErrorCallback) { s.onError = cb }
