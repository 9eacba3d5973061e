package mvola

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.October, 19, 8, 30, 0, 123_000_000, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCredentials(t *testing.T) Credentials {
	t.Helper()
	creds, err := NewCredentials("key", "secret", "Test Partner Company", "0343500004", Sandbox)
	require.NoError(t, err)
	return creds
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string {
		return fmt.Sprintf("corr-%d", n.Add(1))
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const tokenBody = `{"access_token":"tok","token_type":"Bearer","scope":"EXT_INT_MVOLA_SCOPE","expires_in":3600}`

// apiStub serves the token endpoint and hands every other request to handler.
type apiStub struct {
	server     *httptest.Server
	tokenCalls atomic.Int32
	calls      atomic.Int32
}

func newAPIStub(t *testing.T, handler http.HandlerFunc) *apiStub {
	t.Helper()
	s := &apiStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		writeJSON(w, http.StatusOK, tokenBody)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		handler(w, r)
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *apiStub) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(s.server.URL),
		WithHTTPClient(s.server.Client()),
		WithIDGenerator(sequentialIDs()),
		WithClock(func() time.Time { return testNow }),
		WithLogger(discardLogger()),
	}
	return NewClient(testCredentials(t), append(base, opts...)...)
}

type staticTokens struct {
	invalidated atomic.Int32
}

func (s *staticTokens) Token(context.Context, bool) (Token, error) {
	return Token{Value: "static", Type: "Bearer", IssuedAt: testNow, ExpiresIn: time.Hour}, nil
}

func (s *staticTokens) Invalidate() { s.invalidated.Add(1) }
