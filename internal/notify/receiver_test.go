package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/berniyo/mvola-lambda/internal/handler"
	"github.com/berniyo/mvola-lambda/internal/mvola"
)

const notificationBody = `{
	"transactionStatus":"completed",
	"serverCorrelationId":"abc123",
	"transactionReference":"636042511",
	"requestDate":"2026-10-19T08:30:00.123Z",
	"debitParty":[{"key":"msisdn","value":"0343500003"}],
	"creditParty":[{"key":"msisdn","value":"0343500004"}],
	"fees":[{"feeAmount":"15"}],
	"metadata":[{"key":"partnerName","value":"Test Partner Company"}]
}`

func newServer(t *testing.T, handle HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(NewReceiver(handle, slog.New(slog.NewTextHandler(io.Discard, nil)))))
	t.Cleanup(server.Close)
	return server
}

func send(t *testing.T, server *httptest.Server, method, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+CallbackPath, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestReceiverDispatchesNotification(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			var got []mvola.Notification
			server := newServer(t, func(ctx context.Context, n mvola.Notification) error {
				got = append(got, n)
				return nil
			})

			resp := send(t, server, method, notificationBody)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			require.Len(t, got, 1)
			require.Equal(t, mvola.StatusCompleted, got[0].Status())
			require.Equal(t, "abc123", got[0].ServerCorrelationID)
			require.Equal(t, "636042511", got[0].TransactionReference)
			require.Len(t, got[0].Fees, 1)
		})
	}
}

func TestReceiverRejectsBadBodies(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing status": `{"serverCorrelationId":"abc123"}`,
		"missing ids":    `{"transactionStatus":"completed"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			server := newServer(t, func(ctx context.Context, n mvola.Notification) error {
				called = true
				return nil
			})

			resp := send(t, server, http.MethodPut, body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.False(t, called)
		})
	}
}

func TestReceiverRejectsOversizedBody(t *testing.T) {
	server := newServer(t, nil)
	body := `{"transactionStatus":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	resp := send(t, server, http.MethodPost, body)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestReceiverReportsHandlerFailure(t *testing.T) {
	server := newServer(t, func(ctx context.Context, n mvola.Notification) error {
		return errors.New("downstream unavailable")
	})

	resp := send(t, server, http.MethodPut, notificationBody)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestReceiverRoutes(t *testing.T) {
	server := newServer(t, nil)

	resp, err := server.Client().Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2 := send(t, server, http.MethodDelete, notificationBody)
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReceiverLogsRequestsThroughSlog(t *testing.T) {
	out := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))
	server := httptest.NewServer(NewRouter(NewReceiver(nil, logger)))
	defer server.Close()

	resp := send(t, server, http.MethodPost, notificationBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"msg":"request served"`)
	}, time.Second, 5*time.Millisecond)
	logged := out.String()
	require.Contains(t, logged, `"status":200`)
	require.Contains(t, logged, `"path":"/mvola/callback"`)
	require.Contains(t, logged, `"msg":"notification received"`)
}

type fixedToken struct{}

func (fixedToken) Token(context.Context, bool) (mvola.Token, error) {
	return mvola.Token{Value: "tok", Type: "Bearer", IssuedAt: time.Now(), ExpiresIn: time.Hour}, nil
}

func (fixedToken) Invalidate() {}

func TestForgedCompletionIsNotForwarded(t *testing.T) {
	var statusCalls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mvola/mm/transactions/type/merchantpay/1.0.0/status/abc123", r.URL.Path)
		statusCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"pending","serverCorrelationId":"abc123"}`)
	}))
	defer api.Close()

	var outcomes atomic.Int32
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcomes.Add(1)
	}))
	defer downstream.Close()

	creds, err := mvola.NewCredentials("key", "secret", "Test Partner Company", "0343500004", mvola.Sandbox)
	require.NoError(t, err)
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := mvola.NewClient(creds,
		mvola.WithBaseURL(api.URL),
		mvola.WithHTTPClient(api.Client()),
		mvola.WithTokenSource(fixedToken{}),
		mvola.WithLogger(discard),
	)
	sender, err := handler.NewHTTPSOutcomeSender(downstream.URL, "shared", downstream.Client())
	require.NoError(t, err)
	forwarder := handler.NewNotificationForwarder(client, sender, discard)

	server := newServer(t, forwarder.Forward)
	resp := send(t, server, http.MethodPost,
		`{"transactionStatus":"completed","serverCorrelationId":"abc123","transactionReference":"X"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, statusCalls.Load())
	require.Zero(t, outcomes.Load())
}
