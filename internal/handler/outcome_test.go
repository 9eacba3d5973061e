package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/berniyo/mvola-lambda/internal/mvola"
)

func TestHTTPSOutcomeSenderSignsPayload(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotKey  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotSig = r.Header.Get(SignatureHeader)
		gotKey = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender, err := NewHTTPSOutcomeSender(server.URL, "shared", server.Client())
	require.NoError(t, err)

	payload := PaymentResponse{CorrelationID: "corr-1", ServerCorrelationID: "abc123", Status: mvola.StatusCompleted}
	require.NoError(t, sender.Send(context.Background(), payload))

	require.Equal(t, "corr-1", gotKey)
	require.Equal(t, Sign([]byte("shared"), gotBody), gotSig)

	var decoded PaymentResponse
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Equal(t, mvola.StatusCompleted, decoded.Status)
}

func TestHTTPSOutcomeSenderWithoutSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get(SignatureHeader))
	}))
	defer server.Close()

	sender, err := NewHTTPSOutcomeSender(server.URL, "", nil)
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), PaymentResponse{}))
}

func TestHTTPSOutcomeSenderReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	sender, err := NewHTTPSOutcomeSender(server.URL, "shared", nil)
	require.NoError(t, err)
	require.EqualError(t, sender.Send(context.Background(), PaymentResponse{}), "outcome endpoint returned 502: nope")
}

func TestNewHTTPSOutcomeSenderRequiresURL(t *testing.T) {
	_, err := NewHTTPSOutcomeSender("  ", "", nil)
	require.EqualError(t, err, "outcome URL is required")

	_, err = NewHTTPSOutcomeSender("/relative", "", nil)
	require.Error(t, err)
}

func TestSignIsStable(t *testing.T) {
	require.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign([]byte("key"), []byte("The quick brown fox jumps over the lazy dog")))
}
