package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultOutcomeTimeout = 15 * time.Second

	// SignatureHeader carries the hex HMAC-SHA256 of the body keyed by the shared secret.
	SignatureHeader = "X-Outcome-Signature"
)

// HTTPSOutcomeSender posts payment outcomes to an HTTPS endpoint.
type HTTPSOutcomeSender struct {
	url        string
	secret     []byte
	httpClient *http.Client
}

// NewHTTPSOutcomeSender builds an outcome client for endpoint.
func NewHTTPSOutcomeSender(endpoint, secret string, client *http.Client) (*HTTPSOutcomeSender, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("outcome URL is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("outcome URL %q is not an absolute http(s) URL", endpoint)
	}

	if client == nil {
		client = &http.Client{Timeout: defaultOutcomeTimeout}
	}

	return &HTTPSOutcomeSender{
		url:        endpoint,
		secret:     []byte(secret),
		httpClient: client,
	}, nil
}

// Send transmits the payment response as JSON to the configured endpoint.
// The correlation id doubles as an idempotency key for the receiver.
func (h *HTTPSOutcomeSender) Send(ctx context.Context, payload PaymentResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode outcome payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outcome request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if payload.CorrelationID != "" {
		req.Header.Set("Idempotency-Key", payload.CorrelationID)
	}
	if len(h.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(h.secret, body))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send outcome request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("outcome endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return nil
}

// Sign returns the hex-encoded HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
