package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := &fakeReady{}
	server := newTestServer(ready)

	rec := serve(t, server, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	ready.fail(errors.New("vector index: connection refused"))
	rec = serve(t, server, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_MetricsExposesCollectors(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	serve(t, server, http.MethodGet, "/healthz")
	rec := serve(t, server, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeReady{panics: true}), http.MethodGet, "/readyz")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil), http.MethodGet, "/healthz")

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func serve(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func newTestServer(ready ReadyChecker) *Server {
	return NewServer(ready, zap.NewNop())
}

type fakeReady struct {
	mu     sync.Mutex
	err    error
	panics bool
}

func (f *fakeReady) Ready(context.Context) error {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeReady) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
